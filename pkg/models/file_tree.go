package models

// FileNode is one entry in a workspace listing. Directories carry children;
// files do not.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"` // "file" or "directory"
	Children []FileNode `json:"children,omitempty"`
}

// FileNode types.
const (
	FileNodeFile      = "file"
	FileNodeDirectory = "directory"
)

// FlattenTree returns the relative paths of all files in the tree, in
// depth-first order. Used to render the file list given to the coder.
func FlattenTree(nodes []FileNode) []string {
	var out []string
	var walk func([]FileNode)
	walk = func(ns []FileNode) {
		for _, n := range ns {
			if n.Type == FileNodeFile {
				out = append(out, n.Path)
				continue
			}
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}
