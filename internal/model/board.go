package model

import "fmt"

// Team 토큰 소속 팀
type Team string

const (
	TeamA Team = "red"
	TeamB Team = "blue"
)

// MarkerType 마커 종류
type MarkerType string

const (
	MarkerFrag   MarkerType = "frag"
	MarkerSmoke  MarkerType = "smoke"
	MarkerStun   MarkerType = "stun"
	MarkerCustom MarkerType = "custom" // 이미지 참조 마커
	MarkerText   MarkerType = "text"   // 자유 텍스트 마커
)

const (
	TokensPerTeam = 5
	DefaultLayer  = 1
	MinLayer      = 0
	MaxLayer      = 4
)

// Position 2D 좌표
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Token 보드 위의 고정 말 (팀당 5개)
type Token struct {
	ID        string   `json:"id"`
	Team      Team     `json:"team"`
	Number    int      `json:"number"`
	Position  Position `json:"position"`
	MarkedOut bool     `json:"markedOut"`
	Layer     int      `json:"layer"`
}

// Stroke 자유 그리기 획
type Stroke struct {
	ID          string    `json:"id,omitempty"`
	Type        string    `json:"type"`   // pen, line
	Points      []float64 `json:"points"` // x0, y0, x1, y1, ...
	Color       string    `json:"color"`
	StrokeWidth float64   `json:"strokeWidth"`
	Layer       int       `json:"layer"`
}

// Marker 위치가 지정된 주석
type Marker struct {
	ID       string     `json:"id"`
	Type     MarkerType `json:"type"`
	Position Position   `json:"position"`
	Layer    int        `json:"layer"`
	Content  string     `json:"content,omitempty"`
	ImageURL string     `json:"imageUrl,omitempty"`
}

// BoardSnapshot 세션 하나의 공유 보드 전체 상태
type BoardSnapshot struct {
	Tokens             []Token  `json:"tokens"`
	Strokes            []Stroke `json:"strokes"`
	Markers            []Marker `json:"markers"`
	BackgroundImageRef string   `json:"backgroundImageRef,omitempty"`
	ActiveLayer        int      `json:"activeLayer"`
}

// DefaultTokens 초기 토큰 배치 (A팀 y=100, B팀 y=500, x는 60 간격)
func DefaultTokens() []Token {
	tokens := make([]Token, 0, TokensPerTeam*2)
	for _, row := range []struct {
		team Team
		y    float64
	}{{TeamA, 100}, {TeamB, 500}} {
		for i := 1; i <= TokensPerTeam; i++ {
			tokens = append(tokens, Token{
				ID:       fmt.Sprintf("%s-%d", row.team, i),
				Team:     row.team,
				Number:   i,
				Position: Position{X: 100 + float64(i-1)*60, Y: row.y},
				Layer:    DefaultLayer,
			})
		}
	}
	return tokens
}

// DefaultSnapshot 새로 초기화된 보드
func DefaultSnapshot() *BoardSnapshot {
	return &BoardSnapshot{
		Tokens:      DefaultTokens(),
		Strokes:     []Stroke{},
		Markers:     []Marker{},
		ActiveLayer: DefaultLayer,
	}
}
