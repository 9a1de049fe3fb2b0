// Package plugin validates plugin packages.
//
// A package is a zip archive holding metadata.json at its root, one XHTML
// entry document and zero or more declared assets. [Validator.Validate]
// opens the archive, checks the manifest fields, validates the entry
// document against the bundled schema and compares each declared asset
// type with the type sniffed from its bytes. The result is an [Info]
// carrying a freshly generated identifier, or an [*Error] whose [Kind]
// names the failure.
//
// The same archive and manifest primitives are reused at serve time by
// the resolver, so the allow-list is always derived from the stored
// archive itself.
package plugin
