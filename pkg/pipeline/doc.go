// Package pipeline turns group targets into persisted posts, comments and
// profiles.
//
// An Orchestrator seeds one wall listing per group and runs it on the
// scheduler. Every completed page is deduplicated against run-scoped seen
// sets, cut to the group's post budget or the post's comment budget, and
// upserted to the Sink before the follow-on tasks it implies are
// submitted: comment listings for accepted posts, the next wall or
// comment page, reply threads, and one profile fetch per new commenter.
//
// Run returns a Snapshot of the per-kind counters. In collect-from-db
// mode no task is scheduled and the FeatureStage reads what earlier runs
// persisted.
package pipeline
