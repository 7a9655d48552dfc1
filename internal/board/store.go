package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/logging"
	"realtime-board/internal/model"
)

// Store 세션별 공유 보드 상태 저장소.
//
// 엔티티 단위로 저장한다: 토큰은 해시 필드, 스트로크/마커는 id 리스트 + 데이터 해시.
// 서로 다른 엔티티에 대한 변경은 서로를 덮어쓰지 않고, 같은 토큰/마커 갱신은 WATCH 기반 CAS로 처리한다.
type Store struct {
	rdb         *cache.RedisClient
	ttl         time.Duration
	strokeLimit int
	markerLimit int
	casRetries  int
	log         *logrus.Entry
	newID       func() string
}

// NewStore Store 생성자
func NewStore(rdb *cache.RedisClient, cfg config.BoardConfig, log logrus.FieldLogger) *Store {
	retries := cfg.CASRetries
	if retries < 1 {
		retries = 1
	}
	return &Store{
		rdb:         rdb,
		ttl:         cfg.BoardTTL,
		strokeLimit: cfg.StrokeLimit,
		markerLimit: cfg.MarkerLimit,
		casRetries:  retries,
		log:         logging.Component(log, "board"),
		newID:       uuid.NewString,
	}
}

type boardKeys struct {
	meta, tokens, strokes, strokeData, markers, markerData string
}

func (s *Store) keys(sessionID string) boardKeys {
	return boardKeys{
		meta:       s.rdb.Key("board", sessionID, "meta"),
		tokens:     s.rdb.Key("board", sessionID, "tokens"),
		strokes:    s.rdb.Key("board", sessionID, "strokes"),
		strokeData: s.rdb.Key("board", sessionID, "stroke_data"),
		markers:    s.rdb.Key("board", sessionID, "markers"),
		markerData: s.rdb.Key("board", sessionID, "marker_data"),
	}
}

func (k boardKeys) all() []string {
	return []string{k.meta, k.tokens, k.strokes, k.strokeData, k.markers, k.markerData}
}

// Keys 세션 보드가 사용하는 모든 Redis 키 (세션 삭제 시 사용)
func (s *Store) Keys(sessionID string) []string {
	return s.keys(sessionID).all()
}

func (s *Store) ttlMillis() int64 {
	return s.ttl.Milliseconds()
}

func (s *Store) touch(ctx context.Context, pipe redis.Pipeliner, k boardKeys) {
	for _, key := range k.all() {
		pipe.PExpire(ctx, key, s.ttl)
	}
}

// ensure 보드가 없으면 기본 상태로 초기화
func (s *Store) ensure(ctx context.Context, sessionID string) error {
	k := s.keys(sessionID)

	args := []interface{}{s.ttlMillis(), model.DefaultLayer}
	for _, tok := range model.DefaultTokens() {
		data, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		args = append(args, tok.ID, string(data))
	}

	seeded, err := seedScript.Run(ctx, s.rdb.Client(), []string{k.meta, k.tokens}, args...).Int()
	if err != nil {
		return cache.StoreErr("seed board", err)
	}
	if seeded == 1 {
		s.log.WithField("session_id", sessionID).Debug("Board initialized with defaults")
	}
	return nil
}

// Get 현재 보드 반환. 없으면 기본 보드를 만들어 저장 후 반환.
// 저장소 오류는 로그로만 남기고 기본 보드로 대체한다.
func (s *Store) Get(ctx context.Context, sessionID string) *model.BoardSnapshot {
	snap, err := s.Load(ctx, sessionID)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"error":      err,
		}).Error("Board read failed, serving default board")
		return model.DefaultSnapshot()
	}
	return snap
}

// Load Get과 같지만 오류를 호출자에게 돌려준다.
func (s *Store) Load(ctx context.Context, sessionID string) (*model.BoardSnapshot, error) {
	if err := s.ensure(ctx, sessionID); err != nil {
		return nil, err
	}

	k := s.keys(sessionID)
	var (
		meta       *redis.MapStringStringCmd
		tokens     *redis.MapStringStringCmd
		strokeIDs  *redis.StringSliceCmd
		strokeData *redis.MapStringStringCmd
		markerIDs  *redis.StringSliceCmd
		markerData *redis.MapStringStringCmd
	)
	_, err := s.rdb.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, k.meta)
		tokens = pipe.HGetAll(ctx, k.tokens)
		strokeIDs = pipe.LRange(ctx, k.strokes, 0, -1)
		strokeData = pipe.HGetAll(ctx, k.strokeData)
		markerIDs = pipe.LRange(ctx, k.markers, 0, -1)
		markerData = pipe.HGetAll(ctx, k.markerData)
		return nil
	})
	if err != nil {
		return nil, cache.StoreErr("load board", err)
	}

	snap := model.DefaultSnapshot()
	if layer, err := strconv.Atoi(meta.Val()["activeLayer"]); err == nil {
		snap.ActiveLayer = layer
	}
	snap.BackgroundImageRef = meta.Val()["background"]
	snap.Tokens = decodeTokens(tokens.Val())
	snap.Strokes = decodeOrdered[model.Stroke](strokeIDs.Val(), strokeData.Val())
	snap.Markers = decodeOrdered[model.Marker](markerIDs.Val(), markerData.Val())
	return snap, nil
}

// Save 스냅샷 전체를 기록 (TTL 갱신)
func (s *Store) Save(ctx context.Context, sessionID string, snap *model.BoardSnapshot) error {
	k := s.keys(sessionID)

	strokes := lastN(snap.Strokes, s.strokeLimit)
	markers := lastN(snap.Markers, s.markerLimit)

	_, err := s.rdb.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k.all()...)

		meta := map[string]interface{}{"activeLayer": snap.ActiveLayer}
		if snap.BackgroundImageRef != "" {
			meta["background"] = snap.BackgroundImageRef
		}
		pipe.HSet(ctx, k.meta, meta)

		for _, tok := range snap.Tokens {
			data, err := json.Marshal(tok)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, k.tokens, tok.ID, data)
		}
		for _, st := range strokes {
			if st.ID == "" {
				st.ID = s.newID()
			}
			data, err := json.Marshal(st)
			if err != nil {
				return err
			}
			pipe.RPush(ctx, k.strokes, st.ID)
			pipe.HSet(ctx, k.strokeData, st.ID, data)
		}
		for _, m := range markers {
			if m.ID == "" {
				m.ID = s.newID()
			}
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			pipe.RPush(ctx, k.markers, m.ID)
			pipe.HSet(ctx, k.markerData, m.ID, data)
		}
		s.touch(ctx, pipe, k)
		return nil
	})
	return cache.StoreErr("save board", err)
}

// AddStroke id가 없으면 생성해 추가하고 최근 strokeLimit개만 유지
func (s *Store) AddStroke(ctx context.Context, sessionID string, stroke model.Stroke) (model.Stroke, error) {
	if err := s.ensure(ctx, sessionID); err != nil {
		return stroke, err
	}
	if stroke.ID == "" {
		stroke.ID = s.newID()
	}
	k := s.keys(sessionID)
	if err := s.appendEntity(ctx, k, k.strokes, k.strokeData, stroke.ID, stroke, s.strokeLimit); err != nil {
		return stroke, err
	}
	return stroke, nil
}

// RemoveStroke id로 스트로크 삭제. 없으면 false.
func (s *Store) RemoveStroke(ctx context.Context, sessionID, strokeID string) (bool, error) {
	if err := s.ensure(ctx, sessionID); err != nil {
		return false, err
	}
	k := s.keys(sessionID)
	return s.removeEntity(ctx, k, k.strokes, k.strokeData, strokeID)
}

// MoveToken 토큰 위치 갱신. 토큰이 없으면 false (오류 아님).
func (s *Store) MoveToken(ctx context.Context, sessionID, tokenID string, pos model.Position) (bool, error) {
	if err := s.ensure(ctx, sessionID); err != nil {
		return false, err
	}
	k := s.keys(sessionID)
	return s.casUpdate(ctx, k, k.tokens, tokenID, func(raw string) (string, error) {
		var tok model.Token
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			return "", err
		}
		tok.Position = pos
		data, err := json.Marshal(tok)
		return string(data), err
	})
}

// PatchToken 전달된 필드만 얕게 병합. 토큰이 없으면 false.
// id는 바꿀 수 없고, 알 수 없는 필드는 무시된다.
// 반환 맵은 실제로 저장된 필드와 값만 담는다.
func (s *Store) PatchToken(ctx context.Context, sessionID, tokenID string, fields map[string]json.RawMessage) (map[string]json.RawMessage, bool, error) {
	if err := s.ensure(ctx, sessionID); err != nil {
		return nil, false, err
	}
	k := s.keys(sessionID)

	var applied map[string]json.RawMessage
	found, err := s.casUpdate(ctx, k, k.tokens, tokenID, func(raw string) (string, error) {
		merged := make(map[string]json.RawMessage)
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			return "", err
		}
		for name, val := range fields {
			if name == "id" {
				continue
			}
			merged[name] = val
		}

		encoded, err := json.Marshal(merged)
		if err != nil {
			return "", err
		}
		var tok model.Token
		if err := json.Unmarshal(encoded, &tok); err != nil {
			return "", model.NewValidationError("fields", err.Error())
		}
		tok.ID = tokenID
		data, err := json.Marshal(tok)
		if err != nil {
			return "", err
		}

		// 저장 형태 기준으로 다시 읽어 모르는 키는 버린다
		stored := make(map[string]json.RawMessage)
		if err := json.Unmarshal(data, &stored); err != nil {
			return "", err
		}
		applied = make(map[string]json.RawMessage, len(fields))
		for name := range fields {
			if val, ok := stored[name]; ok && name != "id" {
				applied[name] = val
			}
		}
		return string(data), nil
	})
	if err != nil || !found {
		return nil, found, err
	}
	return applied, true, nil
}

// AddMarker 새 id를 부여해 추가. 저장 실패는 ErrPersistenceFailed로 전달.
func (s *Store) AddMarker(ctx context.Context, sessionID string, marker model.Marker) (model.Marker, error) {
	marker.ID = s.newID()

	if err := s.ensure(ctx, sessionID); err != nil {
		return marker, fmt.Errorf("add marker: %w: %w", model.ErrPersistenceFailed, err)
	}
	k := s.keys(sessionID)
	if err := s.appendEntity(ctx, k, k.markers, k.markerData, marker.ID, marker, s.markerLimit); err != nil {
		return marker, fmt.Errorf("add marker: %w: %w", model.ErrPersistenceFailed, err)
	}
	return marker, nil
}

// RemoveMarker id로 마커 삭제. 없으면 false.
func (s *Store) RemoveMarker(ctx context.Context, sessionID, markerID string) (bool, error) {
	if err := s.ensure(ctx, sessionID); err != nil {
		return false, err
	}
	k := s.keys(sessionID)
	return s.removeEntity(ctx, k, k.markers, k.markerData, markerID)
}

// MoveMarker 마커 위치 갱신. 없으면 false.
func (s *Store) MoveMarker(ctx context.Context, sessionID, markerID string, pos model.Position) (bool, error) {
	if err := s.ensure(ctx, sessionID); err != nil {
		return false, err
	}
	k := s.keys(sessionID)
	return s.casUpdate(ctx, k, k.markerData, markerID, func(raw string) (string, error) {
		var m model.Marker
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return "", err
		}
		m.Position = pos
		data, err := json.Marshal(m)
		return string(data), err
	})
}

// Clear 토큰을 기본 배치로 되돌리고 스트로크/마커를 비움. activeLayer와 배경은 유지.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.ensure(ctx, sessionID); err != nil {
		return err
	}
	k := s.keys(sessionID)

	_, err := s.rdb.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k.tokens, k.strokes, k.strokeData, k.markers, k.markerData)
		for _, tok := range model.DefaultTokens() {
			data, err := json.Marshal(tok)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, k.tokens, tok.ID, data)
		}
		pipe.HSetNX(ctx, k.meta, "activeLayer", model.DefaultLayer)
		s.touch(ctx, pipe, k)
		return nil
	})
	if err != nil {
		return cache.StoreErr("clear board", err)
	}

	s.log.WithField("session_id", sessionID).Info("Board cleared")
	return nil
}

// SetBackground 배경 이미지 참조 설정 (빈 값이면 제거)
func (s *Store) SetBackground(ctx context.Context, sessionID, imageRef string) error {
	if err := s.ensure(ctx, sessionID); err != nil {
		return err
	}
	k := s.keys(sessionID)

	_, err := s.rdb.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if imageRef == "" {
			pipe.HDel(ctx, k.meta, "background")
		} else {
			pipe.HSet(ctx, k.meta, "background", imageRef)
		}
		s.touch(ctx, pipe, k)
		return nil
	})
	return cache.StoreErr("set background", err)
}

// Delete 세션 보드 키 전체 삭제
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.Keys(sessionID)...)
}

func (s *Store) appendEntity(ctx context.Context, k boardKeys, listKey, dataKey, id string, v any, limit int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	keys := append([]string{listKey, dataKey}, k.all()...)
	if err := appendScript.Run(ctx, s.rdb.Client(), keys, id, string(data), limit, s.ttlMillis()).Err(); err != nil {
		return cache.StoreErr("append", err)
	}
	return nil
}

func (s *Store) removeEntity(ctx context.Context, k boardKeys, listKey, dataKey, id string) (bool, error) {
	keys := append([]string{listKey, dataKey}, k.all()...)
	n, err := removeScript.Run(ctx, s.rdb.Client(), keys, id, s.ttlMillis()).Int64()
	if err != nil {
		return false, cache.StoreErr("remove", err)
	}
	return n > 0, nil
}

// casUpdate 해시 필드 하나를 WATCH로 감싸 읽고-바꾸고-쓴다. 충돌 시 casRetries번까지 재시도.
func (s *Store) casUpdate(ctx context.Context, k boardKeys, hashKey, field string, mutate func(raw string) (string, error)) (bool, error) {
	for attempt := 0; attempt < s.casRetries; attempt++ {
		found := false
		err := s.rdb.Client().Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGet(ctx, hashKey, field).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}

			next, err := mutate(raw)
			if err != nil {
				return err
			}
			found = true

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, hashKey, field, next)
				s.touch(ctx, pipe, k)
				return nil
			})
			return err
		}, hashKey)

		switch {
		case err == nil:
			return found, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case model.IsValidation(err):
			return false, err
		default:
			return false, cache.StoreErr("update", err)
		}
	}

	s.log.WithFields(logrus.Fields{"key": hashKey, "field": field}).Warn("CAS retries exhausted")
	return false, fmt.Errorf("update %s: too much contention: %w", field, model.ErrPersistenceFailed)
}

func decodeTokens(raw map[string]string) []model.Token {
	order := make(map[string]int)
	for i, tok := range model.DefaultTokens() {
		order[tok.ID] = i
	}

	tokens := make([]model.Token, 0, len(raw))
	for _, data := range raw {
		var tok model.Token
		if err := json.Unmarshal([]byte(data), &tok); err != nil {
			continue
		}
		tokens = append(tokens, tok)
	}

	sort.Slice(tokens, func(i, j int) bool {
		oi, iKnown := order[tokens[i].ID]
		oj, jKnown := order[tokens[j].ID]
		switch {
		case iKnown && jKnown:
			return oi < oj
		case iKnown != jKnown:
			return iKnown
		default:
			return tokens[i].ID < tokens[j].ID
		}
	})
	return tokens
}

func decodeOrdered[T any](ids []string, data map[string]string) []T {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		raw, ok := data[id]
		if !ok {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func lastN[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[len(items)-n:]
	}
	return items
}
