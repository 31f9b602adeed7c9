package sirix

import (
	"fmt"

	"github.com/sirixcore/sirix/cursor"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/nodetx"
	"github.com/sirixcore/sirix/pagetx"
)

func newCursor(rtx *pagetx.PageReadTrx, startKey int64) (NodeCursor, error) {
	c, err := cursor.New(rtx, startKey)
	if err != nil {
		return nil, fmt.Errorf("sirix: begin node read: %w", err)
	}
	return c, nil
}

// NodeCursor is the read-only half of the embedding API (spec §6.4): a
// stateful position over one resource's document tree at a pinned
// revision. *cursor.Cursor and *NodeWriteTrx both satisfy it.
type NodeCursor interface {
	Key() int64
	GetKind() node.Kind
	HasParent() bool
	HasFirstChild() bool
	HasLeftSibling() bool
	HasRightSibling() bool
	GetParentKey() int64
	GetFirstChildKey() int64
	GetLeftSiblingKey() int64
	GetRightSiblingKey() int64
	GetChildCount() int64
	GetDescendantCount() int64
	GetValue() []byte
	GetName() (string, bool, error)
	MoveToParent() (bool, error)
	MoveToFirstChild() (bool, error)
	MoveToLastChild() (bool, error)
	MoveToLeftSibling() (bool, error)
	MoveToRightSibling() (bool, error)
	MoveTo(key int64) (bool, error)
}

// NodeWriteTransaction embeds NodeCursor and adds the full node write
// transaction surface (spec §4.8). *NodeWriteTrx is the only implementation.
type NodeWriteTransaction interface {
	NodeCursor

	InsertAttribute(elementKey int64, name nodetx.Name, value []byte) (int64, error)
	InsertNamespace(elementKey int64, name nodetx.Name) (int64, error)

	InsertElementAsFirstChild(parentKey int64, name nodetx.Name) (int64, error)
	InsertElementAsLeftSibling(siblingKey int64, name nodetx.Name) (int64, error)
	InsertElementAsRightSibling(siblingKey int64, name nodetx.Name) (int64, error)

	InsertTextAsFirstChild(parentKey int64, value []byte) (int64, error)
	InsertTextAsLeftSibling(siblingKey int64, value []byte) (int64, error)
	InsertTextAsRightSibling(siblingKey int64, value []byte) (int64, error)

	InsertCommentAsFirstChild(parentKey int64, value []byte) (int64, error)
	InsertCommentAsLeftSibling(siblingKey int64, value []byte) (int64, error)
	InsertCommentAsRightSibling(siblingKey int64, value []byte) (int64, error)

	InsertProcessingInstructionAsFirstChild(parentKey int64, target nodetx.Name, value []byte) (int64, error)
	InsertProcessingInstructionAsLeftSibling(siblingKey int64, target nodetx.Name, value []byte) (int64, error)
	InsertProcessingInstructionAsRightSibling(siblingKey int64, target nodetx.Name, value []byte) (int64, error)

	InsertSubtreeAsFirstChild(parentKey int64, events []nodetx.Event) (int64, error)
	InsertSubtreeAsLeftSibling(siblingKey int64, events []nodetx.Event) (int64, error)
	InsertSubtreeAsRightSibling(siblingKey int64, events []nodetx.Event) (int64, error)

	MoveSubtreeToFirstChild(fromKey, parentKey int64) error
	MoveSubtreeToLeftSibling(fromKey, siblingKey int64) error
	MoveSubtreeToRightSibling(fromKey, siblingKey int64) error

	CopySubtreeAsFirstChild(parentKey int64, src *pagetx.PageReadTrx, srcKey int64) (int64, error)
	CopySubtreeAsLeftSibling(siblingKey int64, src *pagetx.PageReadTrx, srcKey int64) (int64, error)
	CopySubtreeAsRightSibling(siblingKey int64, src *pagetx.PageReadTrx, srcKey int64) (int64, error)

	SetName(key int64, name nodetx.Name) error
	SetValue(key int64, value []byte) error
	Remove(key int64) error

	MutationCount() int
	Commit() error
	Abort() error
}

// NodeWriteTrx wraps a nodetx.Transaction with the resource's auto-commit
// policy (spec §4.8 point 5): every mutating call funnels through
// afterMutation, which commits and rechains a fresh page write
// transaction (preserving the cursor's current position) once the dirty
// page count or mutation count crosses the configured threshold. This is
// the same single choke-point shape as the teacher's Builder.addOp, which
// triggers a progressive flush from one place rather than scattering the
// check across every setter.
type NodeWriteTrx struct {
	*nodetx.Transaction
	res *Resource
	wtx *pagetx.PageWriteTrx
}

// BeginNodeWriteTrx opens the single node write transaction for this
// resource, positioned at the document root.
func (r *Resource) BeginNodeWriteTrx() (*NodeWriteTrx, error) {
	wtx, err := r.BeginPageWriteTrx()
	if err != nil {
		return nil, err
	}
	tx, err := nodetx.New(wtx, node.DocumentNodeKey)
	if err != nil {
		r.mgr.Release()
		return nil, fmt.Errorf("sirix: begin node write: %w", err)
	}
	return &NodeWriteTrx{Transaction: tx, res: r, wtx: wtx}, nil
}

// BeginNodeReadTrx opens a read-only node cursor pinned to the most
// recently committed revision.
func (r *Resource) BeginNodeReadTrx() (NodeCursor, error) {
	rtx, err := r.BeginPageReadTrx()
	if err != nil {
		return nil, err
	}
	return newCursor(rtx, node.DocumentNodeKey)
}

// BeginNodeReadTrxAt opens a read-only node cursor pinned to a specific
// past revision (spec §4.5).
func (r *Resource) BeginNodeReadTrxAt(revisionNumber uint32) (NodeCursor, error) {
	rtx, err := r.BeginPageReadTrxAt(revisionNumber)
	if err != nil {
		return nil, err
	}
	return newCursor(rtx, node.DocumentNodeKey)
}

func (n *NodeWriteTrx) afterMutation() error {
	thresholds := n.res.opts
	dirty := thresholds.AutoCommitDirtyPages > 0 && n.wtx.DirtyPageCount() >= thresholds.AutoCommitDirtyPages
	mutated := thresholds.AutoCommitMutations > 0 && n.Transaction.MutationCount() >= thresholds.AutoCommitMutations
	if !dirty && !mutated {
		return nil
	}
	return n.autoCommit()
}

// autoCommit commits the in-progress revision and opens a fresh page
// write transaction chained onto it, reconstructing the node transaction
// at the same cursor position.
func (n *NodeWriteTrx) autoCommit() error {
	pos := n.Transaction.Key()
	if _, err := n.wtx.Commit(); err != nil {
		return fmt.Errorf("sirix: auto-commit: %w", err)
	}
	n.res.mgr.Release()

	wtx, err := n.res.mgr.BeginWrite()
	if err != nil {
		return fmt.Errorf("sirix: auto-commit: reopen: %w", err)
	}
	tx, err := nodetx.New(wtx, pos)
	if err != nil {
		return fmt.Errorf("sirix: auto-commit: resume: %w", err)
	}
	L.Debug("auto-committed revision", "resource", n.res.name, "position", pos)
	n.Transaction, n.wtx = tx, wtx
	return nil
}

// Commit flushes the in-progress revision and releases the writer slot.
// The transaction must not be used afterward.
func (n *NodeWriteTrx) Commit() error {
	if _, err := n.wtx.Commit(); err != nil {
		return fmt.Errorf("sirix: commit: %w", err)
	}
	n.res.mgr.Release()
	return nil
}

// Abort discards the in-progress revision and releases the writer slot.
func (n *NodeWriteTrx) Abort() error {
	if err := n.wtx.Abort(); err != nil {
		return fmt.Errorf("sirix: abort: %w", err)
	}
	n.res.mgr.Release()
	return nil
}

func (n *NodeWriteTrx) InsertAttribute(elementKey int64, name nodetx.Name, value []byte) (int64, error) {
	key, err := n.Transaction.InsertAttribute(elementKey, name, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertNamespace(elementKey int64, name nodetx.Name) (int64, error) {
	key, err := n.Transaction.InsertNamespace(elementKey, name)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertElementAsFirstChild(parentKey int64, name nodetx.Name) (int64, error) {
	key, err := n.Transaction.InsertElementAsFirstChild(parentKey, name)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertElementAsLeftSibling(siblingKey int64, name nodetx.Name) (int64, error) {
	key, err := n.Transaction.InsertElementAsLeftSibling(siblingKey, name)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertElementAsRightSibling(siblingKey int64, name nodetx.Name) (int64, error) {
	key, err := n.Transaction.InsertElementAsRightSibling(siblingKey, name)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertTextAsFirstChild(parentKey int64, value []byte) (int64, error) {
	key, err := n.Transaction.InsertTextAsFirstChild(parentKey, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertTextAsLeftSibling(siblingKey int64, value []byte) (int64, error) {
	key, err := n.Transaction.InsertTextAsLeftSibling(siblingKey, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertTextAsRightSibling(siblingKey int64, value []byte) (int64, error) {
	key, err := n.Transaction.InsertTextAsRightSibling(siblingKey, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertCommentAsFirstChild(parentKey int64, value []byte) (int64, error) {
	key, err := n.Transaction.InsertCommentAsFirstChild(parentKey, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertCommentAsLeftSibling(siblingKey int64, value []byte) (int64, error) {
	key, err := n.Transaction.InsertCommentAsLeftSibling(siblingKey, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertCommentAsRightSibling(siblingKey int64, value []byte) (int64, error) {
	key, err := n.Transaction.InsertCommentAsRightSibling(siblingKey, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertProcessingInstructionAsFirstChild(parentKey int64, target nodetx.Name, value []byte) (int64, error) {
	key, err := n.Transaction.InsertProcessingInstructionAsFirstChild(parentKey, target, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertProcessingInstructionAsLeftSibling(siblingKey int64, target nodetx.Name, value []byte) (int64, error) {
	key, err := n.Transaction.InsertProcessingInstructionAsLeftSibling(siblingKey, target, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertProcessingInstructionAsRightSibling(siblingKey int64, target nodetx.Name, value []byte) (int64, error) {
	key, err := n.Transaction.InsertProcessingInstructionAsRightSibling(siblingKey, target, value)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertSubtreeAsFirstChild(parentKey int64, events []nodetx.Event) (int64, error) {
	key, err := n.Transaction.InsertSubtreeAsFirstChild(parentKey, events)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertSubtreeAsLeftSibling(siblingKey int64, events []nodetx.Event) (int64, error) {
	key, err := n.Transaction.InsertSubtreeAsLeftSibling(siblingKey, events)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) InsertSubtreeAsRightSibling(siblingKey int64, events []nodetx.Event) (int64, error) {
	key, err := n.Transaction.InsertSubtreeAsRightSibling(siblingKey, events)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) MoveSubtreeToFirstChild(fromKey, parentKey int64) error {
	if err := n.Transaction.MoveSubtreeToFirstChild(fromKey, parentKey); err != nil {
		return err
	}
	return n.afterMutation()
}

func (n *NodeWriteTrx) MoveSubtreeToLeftSibling(fromKey, siblingKey int64) error {
	if err := n.Transaction.MoveSubtreeToLeftSibling(fromKey, siblingKey); err != nil {
		return err
	}
	return n.afterMutation()
}

func (n *NodeWriteTrx) MoveSubtreeToRightSibling(fromKey, siblingKey int64) error {
	if err := n.Transaction.MoveSubtreeToRightSibling(fromKey, siblingKey); err != nil {
		return err
	}
	return n.afterMutation()
}

func (n *NodeWriteTrx) CopySubtreeAsFirstChild(parentKey int64, src *pagetx.PageReadTrx, srcKey int64) (int64, error) {
	key, err := n.Transaction.CopySubtreeAsFirstChild(parentKey, src, srcKey)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) CopySubtreeAsLeftSibling(siblingKey int64, src *pagetx.PageReadTrx, srcKey int64) (int64, error) {
	key, err := n.Transaction.CopySubtreeAsLeftSibling(siblingKey, src, srcKey)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) CopySubtreeAsRightSibling(siblingKey int64, src *pagetx.PageReadTrx, srcKey int64) (int64, error) {
	key, err := n.Transaction.CopySubtreeAsRightSibling(siblingKey, src, srcKey)
	if err != nil {
		return key, err
	}
	return key, n.afterMutation()
}

func (n *NodeWriteTrx) SetName(key int64, name nodetx.Name) error {
	if err := n.Transaction.SetName(key, name); err != nil {
		return err
	}
	return n.afterMutation()
}

func (n *NodeWriteTrx) SetValue(key int64, value []byte) error {
	if err := n.Transaction.SetValue(key, value); err != nil {
		return err
	}
	return n.afterMutation()
}

func (n *NodeWriteTrx) Remove(key int64) error {
	if err := n.Transaction.Remove(key); err != nil {
		return err
	}
	return n.afterMutation()
}
