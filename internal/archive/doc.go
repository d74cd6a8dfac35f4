// Package archive extracts selected members of a zip archive into a
// destination tree.
//
// Members are enumerated lazily through Entries. A Filter decides which
// members are written and where: exclusions (prefixes and globs) win over
// inclusions, the matched include prefix is stripped from the output path
// unless KeepPrefix is set, and Flatten reduces every member to its base
// name. Directory members are never materialized; parent directories are
// created as needed for the files written into them.
//
// Output paths are joined to the destination with the same checks applied to
// untrusted tarballs: members containing "..", ":" or an absolute path are
// rejected with *UnsafePathError, which aborts that archive.
//
// Named filters (policies) live in a process-wide registry. The built-in
// policies are registered at init time:
//
//	assets   everything except META-INF/ and *.class files, paths kept
//	natives  everything except META-INF/, flattened to base names
//	all      every file member, paths kept
package archive
