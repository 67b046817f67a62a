package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemClient is an in-memory Client. It backs the engine's tests and the
// dry-run plumbing, and doubles as executable documentation of the remote
// API's observable behavior: archived pages stay queryable by id, queries
// exclude archived pages, cursors paginate in insertion order.
type MemClient struct {
	mu      sync.Mutex
	seq     int
	pages   map[string]*Page
	order   []string
	schema  *Schema
	nowFunc func() time.Time

	// FailCreate, FailUpdate and FailArchive inject an error for matching
	// page/database operations; tests use them to exercise rollback paths.
	FailCreate  func(props PropertyMap) error
	FailUpdate  func(pageID string) error
	FailArchive func(pageID string) error
}

// NewMemClient creates an empty in-memory client with the given schema.
// A nil schema gets an empty property map.
func NewMemClient(schema *Schema) *MemClient {
	if schema == nil {
		schema = &Schema{ID: "mem", Properties: map[string]PropertySchema{}}
	}
	return &MemClient{
		pages:   make(map[string]*Page),
		schema:  schema,
		nowFunc: time.Now,
	}
}

// SetNow overrides the clock used for created_time stamps (tests).
func (m *MemClient) SetNow(fn func() time.Time) { m.nowFunc = fn }

// Seed inserts a page directly, bypassing CreatePage. Returns the id.
func (m *MemClient) Seed(p Page) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		m.seq++
		p.ID = fmt.Sprintf("page-%04d", m.seq)
	}
	cp := p
	m.pages[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	return cp.ID
}

// Snapshot returns a copy of every stored page, archived included.
func (m *MemClient) Snapshot() []Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Page, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.pages[id])
	}
	return out
}

// CreatePage implements Client.CreatePage.
func (m *MemClient) CreatePage(ctx context.Context, databaseID string, props PropertyMap) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailCreate != nil {
		if err := m.FailCreate(props); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p := &Page{
		ID:          fmt.Sprintf("page-%04d", m.seq),
		Properties:  cloneProps(props),
		CreatedTime: m.nowFunc(),
	}
	m.pages[p.ID] = p
	m.order = append(m.order, p.ID)
	cp := *p
	return &cp, nil
}

// UpdatePage implements Client.UpdatePage. Updating an archived page fails
// with ErrArchived, matching the real API's validation error.
func (m *MemClient) UpdatePage(ctx context.Context, pageID string, props PropertyMap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailUpdate != nil {
		if err := m.FailUpdate(pageID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID]
	if !ok {
		return fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	if p.Archived {
		return fmt.Errorf("page %s: %w", pageID, ErrArchived)
	}
	for name, prop := range props {
		p.Properties = setProp(p.Properties, name, prop)
	}
	return nil
}

// ArchivePage implements Client.ArchivePage.
func (m *MemClient) ArchivePage(ctx context.Context, pageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailArchive != nil {
		if err := m.FailArchive(pageID); err != nil {
			return err
		}
	}
	return m.setArchived(pageID, true)
}

// UnarchivePage implements Client.UnarchivePage.
func (m *MemClient) UnarchivePage(ctx context.Context, pageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.setArchived(pageID, false)
}

func (m *MemClient) setArchived(pageID string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID]
	if !ok {
		return fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	p.Archived = archived
	return nil
}

// RetrievePage implements Client.RetrievePage.
func (m *MemClient) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	cp := *p
	cp.Properties = cloneProps(p.Properties)
	return &cp, nil
}

// QueryPages implements Client.QueryPages. Archived pages are excluded,
// matching the real API.
func (m *MemClient) QueryPages(ctx context.Context, databaseID string, filter *Filter, cursor string) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	const chunk = 100
	start := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "cursor-%d", &start); err != nil {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	var matched []Page
	for _, id := range m.order {
		p := m.pages[id]
		if p.Archived {
			continue
		}
		if filter != nil && filter.Property != "" {
			if p.Properties.PlainText(filter.Property) != filter.RichTextEquals {
				continue
			}
		}
		cp := *p
		cp.Properties = cloneProps(p.Properties)
		matched = append(matched, cp)
	}

	if start >= len(matched) {
		return &QueryResult{}, nil
	}
	end := start + chunk
	if end > len(matched) {
		end = len(matched)
	}
	res := &QueryResult{Results: matched[start:end]}
	if end < len(matched) {
		res.HasMore = true
		res.NextCursor = fmt.Sprintf("cursor-%d", end)
	}
	return res, nil
}

// RetrieveSchema implements Client.RetrieveSchema.
func (m *MemClient) RetrieveSchema(ctx context.Context, databaseID string) (*Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.schema, nil
}

func cloneProps(props PropertyMap) PropertyMap {
	out := make(PropertyMap, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func setProp(props PropertyMap, name string, p Property) PropertyMap {
	if props == nil {
		props = make(PropertyMap)
	}
	props[name] = p
	return props
}
