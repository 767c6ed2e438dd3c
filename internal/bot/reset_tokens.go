package bot

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type pendingReset struct {
	token     string
	expiresAt time.Time
}

// resetTokens はリセット確認用の使い捨てトークンをユーザーごとに1つ保持する。
type resetTokens struct {
	ttl time.Duration

	mu      sync.Mutex
	pending map[string]pendingReset
}

func newResetTokens(ttl time.Duration) *resetTokens {
	return &resetTokens{
		ttl:     ttl,
		pending: make(map[string]pendingReset),
	}
}

// issue は新しいトークンを発行する。同じユーザーの未使用トークンは無効になる。
func (r *resetTokens) issue(userID string, now time.Time) string {
	token := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[userID] = pendingReset{token: token, expiresAt: now.Add(r.ttl)}
	return token
}

// consume はトークンを検証し、有効であれば消費してtrueを返す。
// 期限切れのトークンは検証結果に関わらず破棄する。
func (r *resetTokens) consume(userID, token string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[userID]
	if !ok {
		return false
	}
	if !now.Before(p.expiresAt) {
		delete(r.pending, userID)
		return false
	}
	if p.token != token {
		return false
	}
	delete(r.pending, userID)
	return true
}
