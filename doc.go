/*

Revbase is an embedded, versioned storage engine for trees of small
records.  Every commit produces a new immutable revision; unchanged
pages are shared with the revisions before it.

Vocabulary:

- record: a node of the stored tree, addressed by a node key
- node page: a bucket of 128 consecutive node keys
- fragment: what one commit stored for a node page; depending on the
	revisioning strategy a fragment holds the whole page or only the
	slots that changed
- indirect page: inner node of the trees that route a node page key or
	a revision number to a storage key
- revision root: the page describing one revision: its node tree, its
	name page, and its node key high-water mark
- uber page: the single root of a storage; replacing it is the commit
- storage key: where a page lives in the backend; pages are written
	once and never changed
- name page: the table of interned strings
- transaction log: where a write transaction keeps modified node pages
	until commit, spilling to disk when memory runs short

*/

package revbase
