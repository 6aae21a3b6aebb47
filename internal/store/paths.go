package store

import "path/filepath"

// DirName is the state directory of a project root. It holds the run
// database, the attempt trace and the MCP audit log.
const DirName = ".pfstudy"

// DBFile is the run database file inside the state directory.
const DBFile = "pfstudy.db"

// LocalPath returns the state directory of a project root.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}
