package domainerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeThrottled, Message: "try again later"}
		s.Equal("try again later", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeTokenInvalid}
		s.Equal("token_invalid", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	err1 := New(CodeSessionExpired, "idle timeout")
	err2 := New(CodeSessionExpired, "no session")
	s.ErrorIs(err1, err2)
	s.NotErrorIs(err1, New(CodeThrottled, ""))
	s.NotErrorIs(err1, context.Canceled)
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("assigns code to plain errors", func() {
		err := Wrap(context.DeadlineExceeded, CodeStorageUnavailable, "counter store timed out")
		s.True(HasCode(err, CodeStorageUnavailable))
		s.ErrorIs(err, context.DeadlineExceeded)
	})

	s.Run("preserves the code of an existing domain error", func() {
		inner := New(CodeTokenInvalid, "csrf mismatch")
		err := Wrap(inner, CodeInternal, "request rejected")
		s.True(HasCode(err, CodeTokenInvalid))
		s.Equal("request rejected", err.Error())
	})
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Equal(CodeThrottled, CodeOf(fmt.Errorf("outer: %w", New(CodeThrottled, ""))))
	s.Equal(CodeInternal, CodeOf(errors.New("boom")))
	s.Equal(CodeInternal, CodeOf(nil))
}
