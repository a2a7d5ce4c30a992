package messages

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// RefKind says how a message is addressed within a file.
type RefKind int

const (
	RefByID RefKind = iota + 1
	RefByIndex
)

// indexOutOfRange marks a well-formed index past any storable position.
const indexOutOfRange = -1

// MessageRef is a parsed message path parameter. Index is indexOutOfRange
// for a digit string too large to address a stored message.
type MessageRef struct {
	Kind  RefKind
	ID    uuid.UUID
	Index int
}

// IsIdentifier reports whether s is a canonical UUID: 36 characters in the
// 8-4-4-4-12 hex layout. Braced, URN and undashed forms are rejected.
func IsIdentifier(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// IsIndex reports whether s is a base-10 non-negative integer made only of
// digits. Its magnitude is not bounded.
func IsIndex(s string) bool {
	_, ok := parseIndex(s)
	return ok
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n > math.MaxInt32 {
		return indexOutOfRange, true
	}
	return int(n), true
}

// ParseRef classifies param. The identifier shape is tested first; an
// identifier always contains dashes so the two shapes never overlap.
func ParseRef(param string) (MessageRef, error) {
	if IsIdentifier(param) {
		return MessageRef{Kind: RefByID, ID: uuid.MustParse(param)}, nil
	}
	if n, ok := parseIndex(param); ok {
		return MessageRef{Kind: RefByIndex, Index: n}, nil
	}
	return MessageRef{}, invalidIndex(param)
}

// ParseIDRef accepts only the identifier shape.
func ParseIDRef(param string) (MessageRef, error) {
	if !IsIdentifier(param) {
		return MessageRef{}, invalidIndex(param)
	}
	return MessageRef{Kind: RefByID, ID: uuid.MustParse(param)}, nil
}

// ParseIndexRef accepts only the integer shape.
func ParseIndexRef(param string) (MessageRef, error) {
	n, ok := parseIndex(param)
	if !ok {
		return MessageRef{}, invalidIndex(param)
	}
	return MessageRef{Kind: RefByIndex, Index: n}, nil
}

// Resolver looks up messages of one file by identifier or position. Exactly
// one query mode runs per call, chosen by the reference kind.
type Resolver struct {
	messages MessageRepository
	cache    *Cache
}

// NewResolver creates a Resolver. cache may be nil.
func NewResolver(messages MessageRepository, cache *Cache) *Resolver {
	return &Resolver{messages: messages, cache: cache}
}

// Resolve classifies param with ParseRef and looks it up in fileID.
func (r *Resolver) Resolve(ctx context.Context, fileID uuid.UUID, param string) (*MessageRecord, error) {
	ref, err := ParseRef(param)
	if err != nil {
		return nil, err
	}
	return r.ResolveRef(ctx, fileID, ref)
}

// ResolveRef looks up ref in fileID. A record of another file is not found.
func (r *Resolver) ResolveRef(ctx context.Context, fileID uuid.UUID, ref MessageRef) (*MessageRecord, error) {
	var key string
	switch ref.Kind {
	case RefByID:
		key = idKey(fileID, ref.ID)
	case RefByIndex:
		if ref.Index < 0 {
			return nil, newError(KindNotFound, "resolve", ErrMessageNotFound)
		}
		key = indexKey(fileID, ref.Index)
	default:
		return nil, invalidIndex("")
	}

	if r.cache != nil {
		if m, ok := r.cache.get(key); ok {
			return m, nil
		}
	}

	var (
		m   *MessageRecord
		err error
	)
	if ref.Kind == RefByID {
		m, err = r.messages.GetByID(ctx, fileID, ref.ID)
	} else {
		m, err = r.messages.GetByIndex(ctx, fileID, ref.Index)
	}
	if errors.Is(err, ErrMessageNotFound) {
		return nil, newError(KindNotFound, "resolve", ErrMessageNotFound)
	}
	if err != nil {
		return nil, newError(KindIngestion, "resolve", err)
	}

	if r.cache != nil {
		r.cache.put(m)
	}
	return m, nil
}
