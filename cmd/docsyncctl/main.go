package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"docsync/internal/auth"
	"docsync/internal/config"
	"docsync/internal/db"
	"docsync/internal/models"
	"docsync/internal/repository"

	"github.com/docopt/docopt-go"
)

const Version = "0.1.0"

func main() {
	usage := `docsync control.

Reads the same environment (.env) as the server: JWT_SECRET_KEY and the DB_* settings.

Usage:
    docsyncctl token <user_id> [--ttl=<ttl>] [--refresh]
    docsyncctl revoke-token <token>
    docsyncctl create-document <owner_id> [--title=<title>] [--content=<json>]
    docsyncctl delete-document <document_id>
    docsyncctl documents <user_id>
    docsyncctl grant <document_id> <user_id> <level>
    docsyncctl revoke-access <document_id> <user_id> [--server=<url>]
    docsyncctl collaborators <document_id>
    docsyncctl -h | --help
    docsyncctl --version

Options:
    -h --help           Show this screen.
    --version           Show version.
    --ttl=<ttl>         Token lifetime [default: 24h].
    --refresh           Issue a refresh token instead of an access token.
    --title=<title>     Document title.
    --content=<json>    Initial document content [default: {}].
    --server=<url>      Running server to evict live sessions on, e.g. http://localhost:8080.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		fail(err)
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	if token_, _ := opts.Bool("token"); token_ {
		issueToken(cfg, opts)
		return
	}

	// everything else needs the database
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	database, err := db.NewGorm(cfg, logger)
	if err != nil {
		fail(err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	docs := repository.NewDocumentRepository(database.DB)
	collaborators := repository.NewCollaboratorRepository(database.DB)
	blocklist := repository.NewTokenBlocklistRepository(database.DB)

	if revokeToken_, _ := opts.Bool("revoke-token"); revokeToken_ {
		revokeToken(ctx, cfg, blocklist, opts)
	} else if create_, _ := opts.Bool("create-document"); create_ {
		createDocument(ctx, docs, opts)
	} else if delete_, _ := opts.Bool("delete-document"); delete_ {
		deleteDocument(ctx, docs, opts)
	} else if documents_, _ := opts.Bool("documents"); documents_ {
		listDocuments(ctx, docs, opts)
	} else if grant_, _ := opts.Bool("grant"); grant_ {
		grant(ctx, collaborators, opts)
	} else if revokeAccess_, _ := opts.Bool("revoke-access"); revokeAccess_ {
		revokeAccess(ctx, cfg, docs, collaborators, opts)
	} else if list_, _ := opts.Bool("collaborators"); list_ {
		listCollaborators(ctx, collaborators, opts)
	}
}

func issueToken(cfg *config.Config, opts docopt.Opts) {
	userID := int64Arg(opts, "<user_id>")

	ttlStr, _ := opts.String("--ttl")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		fail(fmt.Errorf("invalid --ttl: %w", err))
	}

	tokenType := auth.TokenTypeAccess
	if refresh, _ := opts.Bool("--refresh"); refresh {
		tokenType = auth.TokenTypeRefresh
	}

	token, err := auth.NewIssuer(cfg.JWTSecret).Issue(userID, ttl, tokenType)
	if err != nil {
		fail(err)
	}
	fmt.Println(token)
}

func revokeToken(ctx context.Context, cfg *config.Config, blocklist *repository.TokenBlocklistRepositoryImpl, opts docopt.Opts) {
	token, _ := opts.String("<token>")

	identity, err := auth.NewVerifier(cfg.JWTSecret).Verify(token)
	if err != nil {
		fail(err)
	}
	if identity.TokenID == "" {
		fail(fmt.Errorf("token has no jti and cannot be revoked"))
	}

	if err := blocklist.Revoke(ctx, identity.TokenID, identity.TokenType(), identity.UserID); err != nil {
		fail(err)
	}
	fmt.Printf("revoked %s token %s for user %d\n", identity.TokenType(), identity.TokenID, identity.UserID)
}

func createDocument(ctx context.Context, docs *repository.DocumentRepositoryImpl, opts docopt.Opts) {
	ownerID := int64Arg(opts, "<owner_id>")
	title, _ := opts.String("--title")
	content, _ := opts.String("--content")
	if !json.Valid([]byte(content)) {
		fail(fmt.Errorf("--content is not valid JSON"))
	}

	doc, err := docs.Create(ctx, &models.DocumentCreate{
		Title:   title,
		Content: models.Content(content),
		OwnerID: ownerID,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("created document %d %q owned by user %d\n", doc.ID, doc.Title, doc.OwnerID)
}

func deleteDocument(ctx context.Context, docs *repository.DocumentRepositoryImpl, opts docopt.Opts) {
	documentID := int64Arg(opts, "<document_id>")
	if err := docs.Delete(ctx, documentID); err != nil {
		fail(err)
	}
	fmt.Printf("deleted document %d\n", documentID)
}

func listDocuments(ctx context.Context, docs *repository.DocumentRepositoryImpl, opts docopt.Opts) {
	documents, err := docs.ListForUser(ctx, int64Arg(opts, "<user_id>"))
	if err != nil {
		fail(err)
	}
	for _, doc := range documents {
		fmt.Printf("%d\t%s\t%s\n", doc.ID, doc.UpdatedAt.Format(time.RFC3339), doc.Title)
	}
}

func grant(ctx context.Context, collaborators *repository.CollaboratorRepositoryImpl, opts docopt.Opts) {
	documentID := int64Arg(opts, "<document_id>")
	userID := int64Arg(opts, "<user_id>")
	level, _ := opts.String("<level>")

	if err := collaborators.Upsert(ctx, documentID, userID, models.PermissionLevel(strings.ToLower(level))); err != nil {
		fail(err)
	}
	fmt.Printf("user %d is now %s on document %d\n", userID, strings.ToLower(level), documentID)
}

// revokeAccess removes the collaborator row. Sessions already in the room keep it until
// evicted, so with --server the running server is asked to evict them.
func revokeAccess(ctx context.Context, cfg *config.Config, docs *repository.DocumentRepositoryImpl, collaborators *repository.CollaboratorRepositoryImpl, opts docopt.Opts) {
	documentID := int64Arg(opts, "<document_id>")
	userID := int64Arg(opts, "<user_id>")

	if err := collaborators.Remove(ctx, documentID, userID); err != nil {
		fail(err)
	}
	fmt.Printf("removed user %d from document %d\n", userID, documentID)

	server, _ := opts.String("--server")
	if server == "" {
		return
	}

	doc, err := docs.GetDocument(ctx, documentID)
	if err != nil {
		fail(err)
	}
	ownerToken, err := auth.NewIssuer(cfg.JWTSecret).Issue(doc.OwnerID, time.Minute, auth.TokenTypeAccess)
	if err != nil {
		fail(err)
	}

	evicted, err := requestEviction(ctx, server, ownerToken, documentID, userID)
	if err != nil {
		fail(err)
	}
	fmt.Printf("evicted %d live connection(s)\n", evicted)
}

func requestEviction(ctx context.Context, server, token string, documentID, userID int64) (int, error) {
	body := strings.NewReader(fmt.Sprintf(`{"user_id":%d}`, userID))
	url := fmt.Sprintf("%s/api/documents/%d/evictions", strings.TrimRight(server, "/"), documentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("eviction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("eviction request failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Evicted int `json:"evicted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode eviction response: %w", err)
	}
	return out.Evicted, nil
}

func listCollaborators(ctx context.Context, collaborators *repository.CollaboratorRepositoryImpl, opts docopt.Opts) {
	rows, err := collaborators.ListByDocument(ctx, int64Arg(opts, "<document_id>"))
	if err != nil {
		fail(err)
	}
	for _, row := range rows {
		fmt.Printf("%d\t%s\n", row.UserID, row.PermissionLevel)
	}
}

func int64Arg(opts docopt.Opts, name string) int64 {
	raw, _ := opts.String(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		fail(fmt.Errorf("%s must be a positive integer, got %q", name, raw))
	}
	return v
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
