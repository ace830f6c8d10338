// Package confloader loads configuration with koanf and watches the
// configuration file for edits.
//
// Priority, highest first:
//
//  1. maps passed to LoadMap (command-line flags)
//  2. AUTHPERSIST_ environment variables, "__" between sections
//  3. the YAML file
//  4. whatever the target struct held before loading
package confloader
