package graph

import (
	"context"
	"fmt"

	"github.com/thicketlab/thicket/internal/store"
)

// HierarchyEdge is one row of the objective closure table. Depth 1 is a
// direct parent/child pair; higher depths are transitive.
type HierarchyEdge struct {
	ParentID string
	ChildID  string
	Depth    int
}

// UpdateObjectiveHierarchy refreshes the closure rows for one objective
// after its parent pointer changed: drop the objective's child-side
// edges, then insert the direct edge and one transitive edge per
// ancestor of the new parent. Parentless objectives end with no
// child-side rows.
func (g *Graph) UpdateObjectiveHierarchy(ctx context.Context, objectiveID string, parentID *string) error {
	tx, err := g.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hierarchy tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM graph_objective_hierarchy WHERE child_id = ?;
	`, objectiveID); err != nil {
		return fmt.Errorf("clear child edges: %w", err)
	}

	if parentID != nil && *parentID != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_objective_hierarchy (parent_id, child_id, depth) VALUES (?, ?, 1);
		`, *parentID, objectiveID); err != nil {
			return fmt.Errorf("insert direct edge: %w", err)
		}
		// Every ancestor of the parent is a transitive ancestor of this
		// objective, one level deeper.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO graph_objective_hierarchy (parent_id, child_id, depth)
			SELECT parent_id, ?, depth + 1
			FROM graph_objective_hierarchy
			WHERE child_id = ?;
		`, objectiveID, *parentID); err != nil {
			return fmt.Errorf("insert transitive edges: %w", err)
		}
	}
	return tx.Commit()
}

// ObjectiveAncestors returns an objective's ancestors, nearest first.
func (g *Graph) ObjectiveAncestors(ctx context.Context, objectiveID string) ([]HierarchyEdge, error) {
	return g.hierarchyEdges(ctx, `
		SELECT parent_id, child_id, depth
		FROM graph_objective_hierarchy
		WHERE child_id = ?
		ORDER BY depth ASC;
	`, objectiveID)
}

// ObjectiveDescendants returns an objective's descendants, nearest first.
func (g *Graph) ObjectiveDescendants(ctx context.Context, objectiveID string) ([]HierarchyEdge, error) {
	return g.hierarchyEdges(ctx, `
		SELECT parent_id, child_id, depth
		FROM graph_objective_hierarchy
		WHERE parent_id = ?
		ORDER BY depth ASC, child_id ASC;
	`, objectiveID)
}

func (g *Graph) hierarchyEdges(ctx context.Context, query, id string) ([]HierarchyEdge, error) {
	rows, err := g.store.DB().QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("hierarchy edges: %w", err)
	}
	defer rows.Close()

	var out []HierarchyEdge
	for rows.Next() {
		var e HierarchyEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID, &e.Depth); err != nil {
			return nil, fmt.Errorf("scan hierarchy edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TreeNode is one objective with its nested children.
type TreeNode struct {
	Objective store.Objective
	Children  []*TreeNode
}

// ObjectiveTree assembles the nested subtree rooted at rootID using
// depth-1 closure edges.
func (g *Graph) ObjectiveTree(ctx context.Context, rootID string) (*TreeNode, error) {
	root, err := g.store.GetObjective(ctx, rootID)
	if err != nil {
		return nil, err
	}
	node := &TreeNode{Objective: root}

	rows, err := g.store.DB().QueryContext(ctx, `
		SELECT child_id FROM graph_objective_hierarchy
		WHERE parent_id = ? AND depth = 1
		ORDER BY child_id;
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", rootID, err)
	}
	var childIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan child id: %w", err)
		}
		childIDs = append(childIDs, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for _, id := range childIDs {
		child, err := g.ObjectiveTree(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}
