package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"docsync/internal/auth"
	"docsync/internal/models"
	"docsync/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePeer records every frame queued to it
type fakePeer struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Enqueue(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) setFull(full bool) {
	p.mu.Lock()
	p.full = full
	p.mu.Unlock()
}

func (p *fakePeer) envelopes() []models.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Envelope, 0, len(p.frames))
	for _, frame := range p.frames {
		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

func (p *fakePeer) events() []string {
	envs := p.envelopes()
	names := make([]string, 0, len(envs))
	for _, env := range envs {
		names = append(names, env.Event)
	}
	return names
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// errorMessages returns the message of every error event received
func (p *fakePeer) errorMessages() []string {
	var msgs []string
	for _, env := range p.envelopes() {
		if env.Event != models.EventError {
			continue
		}
		var m models.ErrorMessage
		if err := json.Unmarshal(env.Data, &m); err != nil {
			panic(err)
		}
		msgs = append(msgs, m.Message)
	}
	return msgs
}

// fakeVerifier accepts tokens of the form registered with allow
type fakeVerifier struct {
	tokens map[string]auth.Identity
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{tokens: make(map[string]auth.Identity)}
}

func (v *fakeVerifier) allow(token string, userID int64, jti string) {
	v.tokens[token] = auth.Identity{UserID: userID, TokenID: jti, ExpiresAt: time.Now().Add(time.Hour)}
}

func (v *fakeVerifier) Verify(token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, auth.ErrMissingToken
	}
	identity, ok := v.tokens[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return identity, nil
}

type fakeRevocations struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[jti], nil
}

// fakeDocuments is an in-memory DocumentStore
type fakeDocuments struct {
	mu     sync.Mutex
	docs   map[int64]*models.Document
	getErr error
	setErr error
	writes int
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: make(map[int64]*models.Document)}
}

func (f *fakeDocuments) put(id int64, title, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = &models.Document{ID: id, Title: title, Content: models.Content(content)}
}

func (f *fakeDocuments) content(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		return string(doc.Content)
	}
	return ""
}

func (f *fakeDocuments) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocuments) SetDocumentContent(ctx context.Context, id int64, content models.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	doc.Content = append(models.Content(nil), content...)
	f.writes++
	return nil
}

type permKey struct {
	documentID int64
	userID     int64
}

// fakePermissions is an in-memory collaborator table
type fakePermissions struct {
	mu     sync.Mutex
	levels map[permKey]models.PermissionLevel
	err    error
}

func newFakePermissions() *fakePermissions {
	return &fakePermissions{levels: make(map[permKey]models.PermissionLevel)}
}

func (f *fakePermissions) grant(documentID, userID int64, level models.PermissionLevel) {
	f.mu.Lock()
	f.levels[permKey{documentID, userID}] = level
	f.mu.Unlock()
}

func (f *fakePermissions) revoke(documentID, userID int64) {
	f.mu.Lock()
	delete(f.levels, permKey{documentID, userID})
	f.mu.Unlock()
}

func (f *fakePermissions) GetPermission(ctx context.Context, documentID, userID int64) (models.PermissionLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	level, ok := f.levels[permKey{documentID, userID}]
	if !ok {
		return "", repository.ErrCollaboratorNotFound
	}
	return level, nil
}

var errStoreDown = errors.New("store unavailable")
