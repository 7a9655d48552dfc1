package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"realtime-board/internal/cache"
	"realtime-board/internal/logging"
	"realtime-board/internal/model"
)

// BoardKeys 세션 삭제 시 함께 지울 보드 키 목록 제공자
type BoardKeys interface {
	Keys(sessionID string) []string
}

// JoinResult join 결과
type JoinResult struct {
	Previous    string            // 이전에 속해 있던 세션 (없으면 "")
	Created     bool              // 이번 join으로 세션이 새로 생성됨
	Participant model.Participant // 실제로 저장된 참가자 레코드
}

// LeaveResult leave 결과
type LeaveResult struct {
	Removed   bool  // 실제로 멤버였는지
	Remaining int64 // 남은 멤버 수
	TornDown  bool  // 마지막 멤버가 나가 세션이 삭제됨
}

// Registry 세션 존재/멤버십/참가자 레코드 관리
type Registry struct {
	rdb    *cache.RedisClient
	boards BoardKeys
	ttl    time.Duration
	log    *logrus.Entry
	now    func() time.Time
}

// New Registry 생성자
func New(rdb *cache.RedisClient, boards BoardKeys, ttl time.Duration, log logrus.FieldLogger) *Registry {
	return &Registry{
		rdb:    rdb,
		boards: boards,
		ttl:    ttl,
		log:    logging.Component(log, "registry"),
		now:    time.Now,
	}
}

func (r *Registry) roomKey(sessionID string) string    { return r.rdb.Key("room", sessionID) }
func (r *Registry) membersKey(sessionID string) string { return r.rdb.Key("room_users", sessionID) }
func (r *Registry) userKey(connID string) string       { return r.rdb.Key("user", connID) }

// Join 연결을 세션에 참가시킴. 다른 세션에 속해 있었다면 먼저 leave 처리.
// 같은 세션에 다시 join하면 최초 참가 시각을 유지한다.
//
// 오류가 나도 res.Previous는 채워질 수 있다: 이전 세션에서는 이미 빠진 상태.
func (r *Registry) Join(ctx context.Context, sessionID string, p model.Participant) (JoinResult, error) {
	var res JoinResult

	prev, err := r.SessionsOf(ctx, p.ID)
	if err != nil {
		return res, err
	}
	for _, sid := range prev {
		if sid == sessionID {
			at, err := r.joinedAt(ctx, p.ID)
			if err != nil {
				return res, err
			}
			if !at.IsZero() {
				p.JoinedAt = at
			}
			continue
		}
		if _, err := r.Leave(ctx, p.ID, sid); err != nil {
			return res, err
		}
		res.Previous = sid
	}

	now := r.now().UTC()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	ts := now.Format(time.RFC3339Nano)

	var created *redis.BoolCmd
	_, err = r.rdb.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.userKey(p.ID), map[string]interface{}{
			"id":        p.ID,
			"name":      p.Name,
			"color":     p.Color,
			"sessionId": sessionID,
			"joinedAt":  p.JoinedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, r.userKey(p.ID), r.ttl)
		pipe.SAdd(ctx, r.membersKey(sessionID), p.ID)
		pipe.Expire(ctx, r.membersKey(sessionID), r.ttl)
		created = pipe.HSetNX(ctx, r.roomKey(sessionID), "id", sessionID)
		pipe.HSetNX(ctx, r.roomKey(sessionID), "createdAt", ts)
		pipe.HSetNX(ctx, r.roomKey(sessionID), "createdBy", p.ID)
		pipe.Expire(ctx, r.roomKey(sessionID), r.ttl)
		return nil
	})
	if err != nil {
		return res, cache.StoreErr("join", err)
	}
	res.Created = created.Val()
	p.SessionID = sessionID
	res.Participant = p

	entry := r.log.WithFields(logrus.Fields{"session_id": sessionID, "conn_id": p.ID})
	if res.Created {
		entry.Info("Session created")
	}
	if res.Previous != "" {
		entry.WithField("previous_session_id", res.Previous).Info("Moved between sessions")
	}
	entry.Debug("Participant joined")
	return res, nil
}

// Leave 세션에서 연결 제거. 멤버가 0이 되면 세션 메타와 보드까지 삭제. 멤버가 아니었다면 no-op.
func (r *Registry) Leave(ctx context.Context, connID, sessionID string) (LeaveResult, error) {
	keys := []string{r.membersKey(sessionID), r.userKey(connID), r.roomKey(sessionID)}
	if r.boards != nil {
		keys = append(keys, r.boards.Keys(sessionID)...)
	}

	left, err := leaveScript.Run(ctx, r.rdb.Client(), keys, connID, sessionID).Int64()
	if err != nil {
		return LeaveResult{}, cache.StoreErr("leave", err)
	}
	if left < 0 {
		return LeaveResult{}, nil
	}

	res := LeaveResult{Removed: true, Remaining: left, TornDown: left == 0}
	entry := r.log.WithFields(logrus.Fields{"session_id": sessionID, "conn_id": connID})
	if res.TornDown {
		entry.Info("Last participant left, session removed")
	} else {
		entry.WithField("remaining", left).Debug("Participant left")
	}
	return res, nil
}

// Roster 유효한 참가자 목록 (이름 기준 중복 제거)
//
// 같은 이름의 참가자는 먼저 들어온 한 명만 보인다. 뒤에 들어온 연결은 멤버로 남지만
// 목록에서는 숨겨진다.
func (r *Registry) Roster(ctx context.Context, sessionID string) ([]model.Participant, error) {
	members, err := r.rdb.SMembers(ctx, r.membersKey(sessionID))
	if err != nil {
		return nil, err
	}

	participants := make([]model.Participant, 0, len(members))
	if len(members) == 0 {
		return participants, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = r.rdb.Client().Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range members {
			cmds[i] = pipe.HGetAll(ctx, r.userKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, cache.StoreErr("roster", err)
	}

	for _, cmd := range cmds {
		fields := cmd.Val()
		// 만료/누락된 레코드나 다른 세션으로 옮겨간 레코드는 없는 것으로 취급
		if len(fields) == 0 || fields["sessionId"] != sessionID {
			continue
		}
		participants = append(participants, parseParticipant(fields))
	}

	sort.SliceStable(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].ID < participants[j].ID
	})

	seen := make(map[string]struct{}, len(participants))
	roster := participants[:0]
	for _, p := range participants {
		if _, dup := seen[p.Name]; dup {
			continue
		}
		seen[p.Name] = struct{}{}
		roster = append(roster, p)
	}
	return roster, nil
}

// SessionInfo 세션 메타데이터 조회
func (r *Registry) SessionInfo(ctx context.Context, sessionID string) (*model.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, r.roomKey(sessionID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}

	s := &model.Session{ID: fields["id"], CreatedBy: fields["createdBy"]}
	if s.ID == "" {
		s.ID = sessionID
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["createdAt"]); err == nil {
		s.CreatedAt = t
	}
	return s, nil
}

// SessionsOf 연결이 현재 속한 세션 (최대 1개)
func (r *Registry) SessionsOf(ctx context.Context, connID string) ([]string, error) {
	sid, err := r.rdb.Client().HGet(ctx, r.userKey(connID), "sessionId").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, cache.StoreErr("sessions of", err)
	}

	member, err := r.rdb.Client().SIsMember(ctx, r.membersKey(sid), connID).Result()
	if err != nil {
		return nil, cache.StoreErr("sessions of", err)
	}
	if !member {
		return nil, nil
	}
	return []string{sid}, nil
}

func (r *Registry) joinedAt(ctx context.Context, connID string) (time.Time, error) {
	raw, err := r.rdb.Client().HGet(ctx, r.userKey(connID), "joinedAt").Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, cache.StoreErr("joined at", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// MemberCount 세션 멤버 수 (로스터 중복 제거 전)
func (r *Registry) MemberCount(ctx context.Context, sessionID string) (int64, error) {
	return r.rdb.SCard(ctx, r.membersKey(sessionID))
}

func parseParticipant(fields map[string]string) model.Participant {
	p := model.Participant{
		ID:        fields["id"],
		Name:      fields["name"],
		Color:     fields["color"],
		SessionID: fields["sessionId"],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["joinedAt"]); err == nil {
		p.JoinedAt = t
	}
	return p
}
