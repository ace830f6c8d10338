// Package output renders command results as a table, JSON or YAML.
//
// Tables are built from structs, slices of structs and maps. Column names
// come from json tags; a `table:"wide"` tag hides a column unless wide
// output was asked for, and `table:"-"` hides it always.
package output
