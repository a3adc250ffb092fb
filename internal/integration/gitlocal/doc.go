// Package gitlocal is a StreamService over local git repositories.
//
// A stream is a branch of a repository. Stream config keys:
//
//	path     repository directory (required)
//	branch   branch tracked by the stream (default: the target id)
//	history  number of commits read into the change history (default 50)
//
// Moving a stream points its branch at the source stream's commit;
// bookmarks are lightweight tags; detaching deletes the branch.
package gitlocal
