// Package checkpoint saves and restores wall listing progress per group.
//
// A checkpoint records the cursor of the next wall page and how many posts
// were already accepted against the group's budget, so an interrupted run
// can continue where it stopped instead of re-listing the wall. Comments
// and profiles need no checkpoint: they are upserted as they arrive.
//
// Checkpoints are JSON files under the XDG data home
// (~/.local/share/vkcrawler/checkpoints on Linux), written atomically via
// a synced temporary file and rename.
package checkpoint
