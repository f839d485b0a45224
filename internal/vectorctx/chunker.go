package vectorctx

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// textChunkLines is the window size for plain-text chunking.
const textChunkLines = 60

// Node types recorded against each chunk.
const (
	nodeTypeFunction  = "function"
	nodeTypeClass     = "class"
	nodeTypeTextChunk = "text_chunk"
)

// chunk is one indexable unit of a file.
type chunk struct {
	Document string
	NodeType string
	NodeName string
}

// chunkFile splits file content into indexable units. Python files yield one
// chunk per top-level function or class; files that are not Python, or do not
// parse, fall back to fixed text windows. A valid Python file with no
// top-level definitions yields nothing.
func chunkFile(ctx context.Context, relPath string, content []byte) ([]chunk, error) {
	if strings.HasSuffix(relPath, ".py") {
		chunks, ok, err := pythonChunks(ctx, content)
		if err != nil {
			return nil, err
		}
		if ok {
			return chunks, nil
		}
	}
	return textChunks(content), nil
}

// pythonChunks extracts top-level definitions. ok is false when the source
// does not parse cleanly and the caller should chunk it as text instead.
func pythonChunks(ctx context.Context, content []byte) (_ []chunk, ok bool, _ error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, false, fmt.Errorf("parse python source: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, false, nil
	}

	var chunks []chunk
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		definition := node
		if node.Type() == "decorated_definition" {
			definition = innerDefinition(node)
			if definition == nil {
				continue
			}
		}

		var nodeType string
		switch definition.Type() {
		case "function_definition":
			nodeType = nodeTypeFunction
		case "class_definition":
			nodeType = nodeTypeClass
		default:
			continue
		}

		nameNode := definition.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}

		chunks = append(chunks, chunk{
			// The decorated wrapper node keeps decorators in the document.
			Document: string(content[node.StartByte():node.EndByte()]),
			NodeType: nodeType,
			NodeName: string(content[nameNode.StartByte():nameNode.EndByte()]),
		})
	}
	return chunks, true, nil
}

// innerDefinition finds the function or class inside a decorated_definition.
func innerDefinition(node *sitter.Node) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition":
			return child
		}
	}
	return nil
}

// textChunks windows the content into fixed-size line blocks, skipping blank
// windows.
func textChunks(content []byte) []chunk {
	lines := strings.Split(string(content), "\n")

	var chunks []chunk
	for start := 0; start < len(lines); start += textChunkLines {
		end := start + textChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		block := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		chunks = append(chunks, chunk{
			Document: block,
			NodeType: nodeTypeTextChunk,
			NodeName: fmt.Sprintf("chunk_%d", len(chunks)),
		})
	}
	return chunks
}
