package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatchingEdge indicates that no outgoing edge matched and no else edge exists.
	ErrNoMatchingEdge = errors.New("no matching edge")

	// ErrInvalidConfig indicates a node config that cannot be interpreted at execution time.
	ErrInvalidConfig = errors.New("invalid node config")
)

type classifiedError struct {
	err       error
	retryable bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Retryable marks err as transient, for example a failed network call.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &classifiedError{err: err, retryable: true}
}

// Permanent marks err as not worth retrying, for example a rejected request.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &classifiedError{err: err, retryable: false}
}

// IsRetryable reports whether err should be retried. Unclassified errors are retryable.
func IsRetryable(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}

	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Retryable
	}

	return !errors.Is(err, ErrInvalidConfig)
}

// NodeError is the failure of a single node visit.
type NodeError struct {
	NodeID    string
	NodeType  string
	Retryable bool
	Err       error
}

// NewNodeError wraps err for node and classifies it.
func NewNodeError(node Node, err error) *NodeError {
	return &NodeError{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Retryable: IsRetryable(err),
		Err:       err,
	}
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func (e *NodeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
