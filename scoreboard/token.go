package scoreboard

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Records outlive the token expiry by this much so a late replay is reported
// as expired rather than not found.
const tokenRecordGrace = 10 * time.Minute

// Memory map is swept for expired records once it grows past this size.
const tokenGCThreshold = 1024

// ActionClaims is the signed payload of an action token reference. The HMAC
// signature makes user id, action type and expiry tamper-evident.
type ActionClaims struct {
	UserID     uint   `json:"user_id"`
	ActionType string `json:"action_type"`
	jwt.RegisteredClaims
}

// IssuedToken is returned to the client after a successful issue.
type IssuedToken struct {
	ID         string    `json:"-"`
	Value      string    `json:"token"`
	UserID     uint      `json:"-"`
	ActionType string    `json:"action_type"`
	IssuedAt   time.Time `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ConsumedToken identifies a token that was just spent.
type ConsumedToken struct {
	ID         string
	ActionType string
}

type tokenRecord struct {
	userID    uint
	expiresAt time.Time
	used      bool
}

type redisTokenRecord struct {
	UserID    uint  `json:"u"`
	ExpiresAt int64 `json:"e"`
	Used      int   `json:"used"`
}

// consumeScript flips a token record from unused to used in one atomic step so
// at most one concurrent caller succeeds.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 'missing' end
local rec = cjson.decode(v)
if tonumber(ARGV[2]) > rec.e then return 'expired' end
if rec.used == 1 then return 'used' end
if tostring(rec.u) ~= ARGV[1] then return 'mismatch' end
rec.used = 1
local ttl = redis.call('TTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], cjson.encode(rec), 'EX', ttl)
else
	redis.call('SET', KEYS[1], cjson.encode(rec))
end
return 'ok'
`)

// TokenService issues single-use, time-bound action tokens and consumes them
// exactly once. Records live in Redis when a client is supplied, otherwise in
// an in-process map.
type TokenService struct {
	secret []byte
	rdb    *redis.Client

	mu      sync.Mutex
	records map[string]*tokenRecord

	now func() time.Time
}

// NewTokenService creates a TokenService signing with secret. rdb may be nil
// for single-instance, in-memory operation.
func NewTokenService(secret string, rdb *redis.Client) *TokenService {
	return &TokenService{
		secret:  []byte(secret),
		rdb:     rdb,
		records: map[string]*tokenRecord{},
		now:     time.Now,
	}
}

func tokenKey(id string) string {
	return "action:token:" + id
}

// Issue creates a signed token bound to the user and action type, persists its
// record as unused, and returns the reference the client must present back.
func (s *TokenService) Issue(ctx context.Context, userID uint, actionType string, ttl time.Duration) (*IssuedToken, error) {
	now := s.now()
	id := uuid.NewString()

	claims := ActionClaims{
		UserID:     userID,
		ActionType: actionType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(ttl)
	if s.rdb != nil {
		rec := redisTokenRecord{UserID: userID, ExpiresAt: expiresAt.Unix()}
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := s.rdb.Set(ctx, tokenKey(id), b, ttl+tokenRecordGrace).Err(); err != nil {
			return nil, err
		}
	} else {
		s.mu.Lock()
		if len(s.records) > tokenGCThreshold {
			s.sweepLocked(now)
		}
		s.records[id] = &tokenRecord{userID: userID, expiresAt: expiresAt}
		s.mu.Unlock()
	}

	return &IssuedToken{
		ID:         id,
		Value:      value,
		UserID:     userID,
		ActionType: actionType,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
	}, nil
}

// Consume validates the token reference and atomically marks it used. Error
// kinds: ErrTokenNotFound (unknown or tampered), ErrTokenExpired,
// ErrTokenAlreadyUsed, ErrTokenUserMismatch. Expiry wins over the used flag.
func (s *TokenService) Consume(ctx context.Context, value string, expectedUserID uint) (*ConsumedToken, error) {
	claims := &ActionClaims{}
	parsed, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenNotFound
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrTokenNotFound
	}

	if s.rdb != nil {
		res, err := consumeScript.Run(ctx, s.rdb, []string{tokenKey(claims.ID)},
			strconv.FormatUint(uint64(expectedUserID), 10), s.now().Unix()).Text()
		if err != nil {
			return nil, err
		}
		switch res {
		case "ok":
			return &ConsumedToken{ID: claims.ID, ActionType: claims.ActionType}, nil
		case "missing":
			return nil, ErrTokenNotFound
		case "expired":
			return nil, ErrTokenExpired
		case "used":
			return nil, ErrTokenAlreadyUsed
		default:
			return nil, ErrTokenUserMismatch
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[claims.ID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if s.now().After(rec.expiresAt) {
		delete(s.records, claims.ID)
		return nil, ErrTokenExpired
	}
	if rec.used {
		return nil, ErrTokenAlreadyUsed
	}
	if rec.userID != expectedUserID {
		return nil, ErrTokenUserMismatch
	}
	rec.used = true
	return &ConsumedToken{ID: claims.ID, ActionType: claims.ActionType}, nil
}

// sweepLocked drops records past expiry plus grace. Caller holds s.mu.
func (s *TokenService) sweepLocked(now time.Time) {
	for id, rec := range s.records {
		if now.After(rec.expiresAt.Add(tokenRecordGrace)) {
			delete(s.records, id)
		}
	}
}
