package main

// assembleCommentTree turns flat comment rows into nested reply trees.
// Input must be in creation order. Output order: top-level comments in
// creation order, each followed depth-first by its reply subtree, children
// in creation order. Built with an adjacency map instead of recursion so a
// deep reply chain cannot blow the stack.
func assembleCommentTree(comments []Comment) []*CommentNode {
	nodes := make(map[int64]*CommentNode, len(comments))
	children := make(map[int64][]*CommentNode, len(comments))
	roots := []*CommentNode{}
	for i := range comments {
		n := &CommentNode{Comment: comments[i], Replies: []*CommentNode{}}
		nodes[n.ID] = n
		if n.ParentID == nil {
			roots = append(roots, n)
		} else {
			children[*n.ParentID] = append(children[*n.ParentID], n)
		}
	}
	for id, list := range children {
		if parent, ok := nodes[id]; ok {
			parent.Replies = list
		}
	}
	return roots
}

// flattenCommentTree emits the display order as a flat list: each node
// followed depth-first by its replies. Iterative to mirror the assembly.
func flattenCommentTree(roots []*CommentNode) []Comment {
	out := make([]Comment, 0, len(roots))
	stack := make([]*CommentNode, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n.Comment)
		for i := len(n.Replies) - 1; i >= 0; i-- {
			stack = append(stack, n.Replies[i])
		}
	}
	return out
}
