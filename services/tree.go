package services

import (
	"context"
	"errors"
	"fmt"

	"minidrive/models"
	"minidrive/store"
)

// errSkipChildren returned from a visit func stops the walk from descending
// into that node.
var errSkipChildren = errors.New("skip children")

type visitFunc func(n *models.Node, path string) error

type treeFrame struct {
	node *models.Node
	path string
}

// walkSubtree visits root and then its descendants depth-first, children in
// name order. path is the slash-joined chain of names starting at root.
// An explicit stack keeps deep trees off the goroutine stack.
func walkSubtree(ctx context.Context, nodes store.NodeRepository, root *models.Node, includeDeleted bool, visit visitFunc) error {
	seen := make(map[string]struct{})
	stack := []treeFrame{{node: root, path: root.Name}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, dup := seen[top.node.ID]; dup {
			return fmt.Errorf("%w: cycle detected at node %s", models.ErrInvalidState, top.node.ID)
		}
		seen[top.node.ID] = struct{}{}

		err := visit(top.node, top.path)
		if errors.Is(err, errSkipChildren) {
			continue
		}
		if err != nil {
			return err
		}
		if !top.node.IsFolder() {
			continue
		}

		children, err := nodes.ListChildren(ctx, top.node.ID, includeDeleted)
		if err != nil {
			return fmt.Errorf("failed to list children of %s: %w", top.node.ID, err)
		}
		// reversed so the first child by name is popped first
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, treeFrame{
				node: children[i],
				path: top.path + "/" + children[i].Name,
			})
		}
	}
	return nil
}

// liveNode loads a node and reports a soft-deleted one as not found.
func liveNode(ctx context.Context, nodes store.NodeRepository, id string) (*models.Node, error) {
	n, err := nodes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.IsDeleted {
		return nil, fmt.Errorf("%w: node %s", models.ErrNotFound, id)
	}
	return n, nil
}
