package model

import "time"

// Session 이름이 붙은 협업 보드 인스턴스
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
}

// Participant 연결 하나가 세션 안에서 갖는 신원 (ID = 연결 ID)
type Participant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	SessionID string    `json:"sessionId,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}
