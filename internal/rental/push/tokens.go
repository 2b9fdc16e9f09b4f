package push

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"cloud.google.com/go/firestore"
	"golang.org/x/exp/slices"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errTokenRequired = errors.New("push: uid and token are required")

// SQLTokens keeps tokens in the notify_tokens table.
type SQLTokens struct {
	db     *sql.DB
	rebind func(string) string
}

// NewSQLTokens constructs SQLTokens. rebind converts '?' placeholders for
// the driver in use; nil leaves queries unchanged.
func NewSQLTokens(db *sql.DB, rebind func(string) string) *SQLTokens {
	if rebind == nil {
		rebind = func(q string) string { return q }
	}
	return &SQLTokens{db: db, rebind: rebind}
}

func (t *SQLTokens) Tokens(ctx context.Context, uid string) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, t.rebind("SELECT token FROM notify_tokens WHERE user_id = ?"), uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (t *SQLTokens) AddToken(ctx context.Context, uid, token string) error {
	if uid == "" || token == "" {
		return errTokenRequired
	}
	var exists int
	err := t.db.QueryRowContext(ctx, t.rebind("SELECT 1 FROM notify_tokens WHERE user_id = ? AND token = ?"), uid, token).Scan(&exists)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = t.db.ExecContext(ctx, t.rebind("INSERT INTO notify_tokens (user_id, token) VALUES (?, ?)"), uid, token)
	return err
}

func (t *SQLTokens) RemoveToken(ctx context.Context, uid, token string) error {
	_, err := t.db.ExecContext(ctx, t.rebind("DELETE FROM notify_tokens WHERE user_id = ? AND token = ?"), uid, token)
	return err
}

// FirestoreTokens keeps tokens in the fcmTokens array of users/{uid}.
type FirestoreTokens struct {
	client *firestore.Client
}

func NewFirestoreTokens(client *firestore.Client) *FirestoreTokens {
	return &FirestoreTokens{client: client}
}

func (t *FirestoreTokens) Tokens(ctx context.Context, uid string) ([]string, error) {
	snap, err := t.client.Collection("users").Doc(uid).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc struct {
		FCMTokens []string `firestore:"fcmTokens"`
	}
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.FCMTokens, nil
}

func (t *FirestoreTokens) AddToken(ctx context.Context, uid, token string) error {
	if uid == "" || token == "" {
		return errTokenRequired
	}
	_, err := t.client.Collection("users").Doc(uid).Set(ctx, map[string]interface{}{
		"fcmTokens": firestore.ArrayUnion(token),
	}, firestore.MergeAll)
	return err
}

func (t *FirestoreTokens) RemoveToken(ctx context.Context, uid, token string) error {
	_, err := t.client.Collection("users").Doc(uid).Update(ctx, []firestore.Update{
		{Path: "fcmTokens", Value: firestore.ArrayRemove(token)},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// MemoryTokens is an in-process token registry.
type MemoryTokens struct {
	mu     sync.Mutex
	byUser map[string][]string
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{byUser: make(map[string][]string)}
}

func (t *MemoryTokens) Tokens(_ context.Context, uid string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.byUser[uid]), nil
}

func (t *MemoryTokens) AddToken(_ context.Context, uid, token string) error {
	if uid == "" || token == "" {
		return errTokenRequired
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.byUser[uid], token) {
		t.byUser[uid] = append(t.byUser[uid], token)
	}
	return nil
}

func (t *MemoryTokens) RemoveToken(_ context.Context, uid, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.byUser[uid]
	if i := slices.Index(list, token); i >= 0 {
		t.byUser[uid] = slices.Delete(list, i, i+1)
	}
	return nil
}
