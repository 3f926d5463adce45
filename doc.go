// Package imagecache manages the memory and scheduling resources
// of an image-backed rendering pipeline.
//
// A [Controller] owns a cache of images keyed by URL, two byte budgets
// (host "RAM" and device "video" memory), a bounded loader queue
// and a single-flight render scheduler. Clients group render work into
// [Bucket]s and ask them for [RenderRequest]s; the controller accounts
// every byte those requests cause and evicts old, unneeded data when a
// budget overflows.
//
// Everything runs on one cooperative [loop.Scheduler]. No method blocks
// and none may be called concurrently; asynchronous completion
// (loads, renders) is observed by subscribing to events.
//
// Glossary and invariants:
//
//   - Image
//
//     The data behind one URL. At most one per URL is cached.
//     RAM is charged its compressed bytes when the load ends,
//     and its decoded bytes when its dimensions are known.
//
//   - RenderRequest
//
//     One (image, target size) render obligation.
//     created → awaiting size → queued → rendering → rendered,
//     and cleared (terminal) from any state.
//     A cleared request holds no subscriptions and is never re-queued.
//
//   - Bucket
//
//     A named group of requests sharing a lock flag.
//     Its RAM view counts each distinct image once.
//
//   - Locked
//
//     A request is locked while it is unrendered, visible, in a locked
//     bucket, or the image reports its size as locked for it.
//     An image is locked while any of its requests is.
//     Eviction never selects locked data, and [RenderRequest.Clear]
//     refuses locked requests unless forced.
//
//   - Video ownership
//
//     Unless GPUDataFull is set, only the first request rendered at
//     a size is charged video bytes for it. That request stays
//     size-locked while other live requests share the size.
//
// Eviction:
//
//   - RAM overflow
//
//     Walk the cache oldest first, deleting unlocked images
//     (which force-clears their requests) until the overflow is covered.
//
//   - Video overflow
//
//     Walk the cache oldest first and each image's requests in order,
//     clearing unlocked requests until the overflow is covered.
//
// If the cache is exhausted first, the matching overflow event is sent
// and the budget is left exceeded.
package imagecache
