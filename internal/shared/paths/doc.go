// Package paths implements the virtual path convention shared by the store,
// the command router and the workspace materializer.
//
// Virtual paths are absolute, "/"-rooted and slash-separated regardless of
// the host OS. Directories are never stored; a directory exists while at
// least one file lies beneath it. An otherwise empty directory is kept alive
// by a hidden marker file:
//
//	/
//	  ├── main.py
//	  └── data/
//	      └── .keep      (marker, never listed)
//
// # Usage
//
//	p := paths.Resolve("/src", "../lib/util.py")  // "/lib/util.py"
//	paths.Parent(p)                               // "/lib"
//	paths.MarkerPath("/data")                     // "/data/.keep"
package paths
