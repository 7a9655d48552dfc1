package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 세션/엔티티가 존재하지 않음
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable 저장소 호출 실패
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPersistenceFailed 변경 내용을 저장하지 못함
	ErrPersistenceFailed = errors.New("persistence failed")
)

// ValidationError 잘못된 요청 페이로드
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError ValidationError 생성
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation err 체인에 ValidationError가 있는지 확인
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
