package email

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/service/sending"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func newTestSES(t *testing.T, api *fakeSES) *SESSender {
	t.Helper()
	sender, err := domain.ParseSubscriberEmail("news@example.com")
	require.NoError(t, err)
	return NewSESSenderWithClient(api, sender)
}

func TestSESSender_BuildsSimpleMessage(t *testing.T) {
	api := &fakeSES{}
	s := newTestSES(t, api)

	require.NoError(t, s.Send(context.Background(), "reader@example.com", "Subject", "<b>html</b>", "text"))

	in := api.input
	require.NotNil(t, in)
	assert.Equal(t, "news@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"reader@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Subject", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "<b>html</b>", aws.ToString(in.Content.Simple.Body.Html.Data))
	assert.Equal(t, "text", aws.ToString(in.Content.Simple.Body.Text.Data))
}

func TestSESSender_ClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"rejected", &smithy.GenericAPIError{Code: "MessageRejected", Message: "bad address"}, true},
		{"bad request", &smithy.GenericAPIError{Code: "BadRequestException"}, true},
		{"throttled", &smithy.GenericAPIError{Code: "TooManyRequestsException"}, false},
		{"sending paused", &smithy.GenericAPIError{Code: "SendingPausedException"}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSES(t, &fakeSES{err: tt.err})
			err := s.Send(context.Background(), "reader@example.com", "s", "h", "t")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.permanent, sending.IsPermanent(err))
		})
	}
}
