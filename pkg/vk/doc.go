// Package vk fetches and parses m.vk.com community walls, post comments
// and user profiles.
//
// The Client is stateless: every call borrows a session.Doer, so pacing,
// cookies and fingerprints stay with the session pool. Listings are paged
// with a Cursor; a page reports the next cursor, or nil at the end.
//
//	page, err := client.ListPosts(ctx, sess, "club1", vk.Cursor{})
//	for err == nil && page.Next != nil {
//	    page, err = client.ListPosts(ctx, sess, "club1", *page.Next)
//	}
//
// Failures are classified with pkg/errors: captcha pages are RateLimited,
// unparseable payloads Fatal, and profile pages without data NotFound.
package vk
