// Package chat is the sync facade the transports talk to. It reads rooms
// and messages through a result-set cache, gates every access on room
// membership, writes through atomic batches and turns store pushes into
// live subscriptions.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rx3lixir/mapchat/internal/access"
	"github.com/rx3lixir/mapchat/internal/background"
	"github.com/rx3lixir/mapchat/internal/cache"
	"github.com/rx3lixir/mapchat/internal/docstore"
	"github.com/rx3lixir/mapchat/internal/listener"
	"github.com/rx3lixir/mapchat/internal/notify"
	"github.com/rx3lixir/mapchat/internal/syncerr"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100

	kindRoomPage    cache.Kind = "roomPage"
	kindMessagePage cache.Kind = "messagePage"

	roomsNamespace = "rooms"

	defaultFetchTimeout = 10 * time.Second
)

func messagesNamespace(roomID string) string {
	return "messages:" + roomID
}

// FileStore keeps attachment bytes
type FileStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string) (string, error)
}

// Deps are the collaborators a Service is built from. Store, Cache and
// Listeners are required; the rest may be nil.
type Deps struct {
	Store     docstore.Store
	Cache     *cache.Store
	Listeners *listener.Registry
	Queue     *background.Queue
	Publisher notify.Publisher
	Files     FileStore
}

type Options struct {
	// AllowMissingMembers opens private rooms whose member list is absent
	AllowMissingMembers bool
	// BatchLimit caps writes per atomic unit (0 means the store maximum)
	BatchLimit int
	// FetchTimeout bounds a page query shared by concurrent readers
	FetchTimeout time.Duration
}

type Service struct {
	store        docstore.Store
	cache        *cache.Store
	listeners    *listener.Registry
	queue        *background.Queue
	publisher    notify.Publisher
	files        FileStore
	gate         access.Gate
	batchLimit   int
	fetchTimeout time.Duration
	group        singleflight.Group
	log          *slog.Logger
}

func NewService(deps Deps, opts Options, log *slog.Logger) *Service {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = notify.Nop{}
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &Service{
		store:        deps.Store,
		cache:        deps.Cache,
		listeners:    deps.Listeners,
		queue:        deps.Queue,
		publisher:    publisher,
		files:        deps.Files,
		gate:         access.Gate{AllowMissingMembers: opts.AllowMissingMembers},
		batchLimit:   opts.BatchLimit,
		fetchTimeout: fetchTimeout,
		log:          log,
	}
}

// storeErr turns a document store failure into a tagged error. Missing
// documents become NotFound; everything else is logged and reported as a
// provider error.
func (s *Service) storeErr(op string, err error, args ...any) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return syncerr.New(syncerr.KindNotFound, op, err)
	}
	if errors.Is(err, docstore.ErrInvalidCursor) || errors.Is(err, docstore.ErrInvalidQuery) {
		return syncerr.New(syncerr.KindValidation, op, err)
	}
	s.log.Error("document store call failed", append([]any{"op", op, "error", err}, args...)...)
	return syncerr.Provider(op, err)
}

func (s *Service) loadRoom(ctx context.Context, op, roomID string) (*Room, error) {
	if roomID == "" {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	doc, err := s.store.Get(ctx, roomsCollection, roomID)
	if err != nil {
		return nil, s.storeErr(op, err, "room_id", roomID)
	}
	room := roomFromDoc(doc)
	return &room, nil
}

// loadMessage fetches a message and checks it belongs to roomID
func (s *Service) loadMessage(ctx context.Context, op, roomID, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	doc, err := s.store.Get(ctx, messagesCollection, messageID)
	if err != nil {
		return nil, s.storeErr(op, err, "message_id", messageID)
	}
	msg := messageFromDoc(doc)
	if msg.RoomID != roomID {
		return nil, syncerr.NotFound(op, "message "+messageID+" not in room "+roomID)
	}
	return &msg, nil
}

func (s *Service) invalidateRoom(roomID string) {
	s.cache.Invalidate(messagesNamespace(roomID), "")
	s.cache.Invalidate(roomsNamespace, "")
}

func (s *Service) enqueue(task background.Task) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(task); err != nil {
		s.log.Warn("failed to enqueue background task", "task", task.Name, "error", err)
	}
}

func pageLimit(op string, limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, syncerr.New(syncerr.KindValidation, op, ErrInvalidPagination)
	case limit == 0:
		return DefaultPageSize, nil
	case limit > MaxPageSize:
		return MaxPageSize, nil
	}
	return limit, nil
}

type pageEntry[T any] struct {
	Items   []T
	HasMore bool
}

type pageResult[T any] struct {
	Items     []T
	HasMore   bool
	Cursor    string
	FromCache bool
}

// listPage serves one page of q through the cache. On a miss it fetches
// limit+1 rows to learn whether another page exists, keeps limit rows and
// stores them unless the namespace was invalidated while the query ran.
// Concurrent misses on the same key share one query, which runs detached
// from any single caller and bounded by fetchTimeout; each caller still
// gives up when its own ctx ends. Every caller gets its own copy of the
// page slice. The items themselves are shared and must not be mutated.
func listPage[T any](
	ctx context.Context,
	s *Service,
	op, namespace string,
	params url.Values,
	kind cache.Kind,
	q docstore.Query,
	cursor string,
	opts CacheOptions,
	decode func(*docstore.Document) T,
) (*pageResult[T], error) {
	limit := q.Limit
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	key := cache.Key(namespace, params)

	if !opts.Bypass {
		if entry, ok := cache.Lookup[pageEntry[T]](s.cache, key, kind); ok {
			next, _ := s.cache.Cursor(key)
			return &pageResult[T]{Items: slices.Clone(entry.Items), HasMore: entry.HasMore, Cursor: next, FromCache: true}, nil
		}
	}

	if cursor != "" {
		cur, err := docstore.DecodeCursor(cursor)
		if err != nil {
			return nil, syncerr.New(syncerr.KindValidation, op, err)
		}
		q.StartAfter = cur
	}
	q.Limit = limit + 1

	ch := s.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		gen := s.cache.Generation(namespace)

		docs, err := s.store.Query(fetchCtx, q)
		if err != nil {
			return nil, s.storeErr(op, err, "namespace", namespace)
		}

		hasMore := len(docs) > limit
		if hasMore {
			docs = docs[:limit]
		}
		items := make([]T, len(docs))
		for i, doc := range docs {
			items[i] = decode(doc)
		}
		next := ""
		if len(docs) > 0 {
			next = docstore.CursorAfter(q, docs[len(docs)-1]).Encode()
		}

		entry := cache.Entry{Kind: kind, Value: pageEntry[T]{Items: items, HasMore: hasMore}}
		if !s.cache.SetIfCurrent(namespace, gen, key, entry, next) {
			s.log.Debug("skipped caching stale page", "key", key)
		}
		return &pageResult[T]{Items: items, HasMore: hasMore, Cursor: next}, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, syncerr.Provider(op, ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	page := res.Val.(*pageResult[T])
	return &pageResult[T]{Items: slices.Clone(page.Items), HasMore: page.HasMore, Cursor: page.Cursor}, nil
}

func roomOrderField(sort string) (string, error) {
	switch sort {
	case "", SortActivity:
		return fLastMessageTime, nil
	case SortCreated:
		return docstore.CreateTimeField, nil
	case SortName:
		return fName, nil
	}
	return "", ErrUnknownSort
}

// ListRooms returns one page of rooms matching filter
func (s *Service) ListRooms(ctx context.Context, filter RoomFilter, page Pagination, opts CacheOptions) (*RoomPage, error) {
	const op = "chat.ListRooms"

	limit, err := pageLimit(op, page.Limit)
	if err != nil {
		return nil, err
	}
	orderBy, err := roomOrderField(filter.Sort.Field)
	if err != nil {
		return nil, syncerr.New(syncerr.KindValidation, op, err)
	}

	q := docstore.Query{Collection: roomsCollection, OrderBy: orderBy, Desc: filter.Sort.Desc, Limit: limit}
	params := url.Values{}
	params.Set("sort", orderBy)
	params.Set("desc", strconv.FormatBool(filter.Sort.Desc))
	if filter.PublicOnly {
		q = q.Where(fIsPublic, docstore.OpEq, true)
		params.Set("public", "true")
	}
	if filter.MemberID != "" {
		q = q.Where(fMembers, docstore.OpArrayContains, filter.MemberID)
		params.Set("member", filter.MemberID)
	}

	res, err := listPage(ctx, s, op, roomsNamespace, params, kindRoomPage, q, page.Cursor, opts, roomFromDoc)
	if err != nil {
		return nil, err
	}
	return &RoomPage{Rooms: res.Items, HasMore: res.HasMore, Cursor: res.Cursor, FromCache: res.FromCache}, nil
}

// ListMessages returns one page of a room's messages, oldest first.
// Tombstones are included so clients can replace what they already show.
func (s *Service) ListMessages(ctx context.Context, roomID, actorID string, page Pagination, opts CacheOptions) (*MessagePage, error) {
	const op = "chat.ListMessages"

	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(room.gateView(), actorID, false); err != nil {
		return nil, err
	}

	limit, err := pageLimit(op, page.Limit)
	if err != nil {
		return nil, err
	}

	q := docstore.Query{
		Collection: messagesCollection,
		OrderBy:    docstore.CreateTimeField,
		Limit:      limit,
	}.Where(fRoomID, docstore.OpEq, roomID)

	res, err := listPage(ctx, s, op, messagesNamespace(roomID), url.Values{}, kindMessagePage, q, page.Cursor, opts, messageFromDoc)
	if err != nil {
		return nil, err
	}

	if opts.MarkAsRead {
		s.queueMarkAsRead(roomID, actorID, res.Items)
	}

	return &MessagePage{Messages: res.Items, HasMore: res.HasMore, Cursor: res.Cursor, FromCache: res.FromCache}, nil
}
