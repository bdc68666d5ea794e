package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/services"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	sendFunc func(ctx context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error)
	inputs   []*ses.SendEmailInput
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, params)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESLockoutNotifier_SendsAlert(t *testing.T) {
	client := &mockSES{}
	n := services.NewSESLockoutNotifierWithClient(client, "security@example.com", time.Second, discardLogger())

	err := n.NotifyAccountLocked(context.Background(), "Alice <alice@example.com>", "org_1")
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "security@example.com", aws.ToString(in.Source))
	assert.Equal(t, []string{"alice@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Your account has been temporarily locked", aws.ToString(in.Message.Subject.Data))

	body := aws.ToString(in.Message.Body.Text.Data)
	assert.Contains(t, body, "administrator")
	assert.NotContains(t, strings.ToLower(body), "until")
}

func TestSESLockoutNotifier_SkipsNonEmailIdentity(t *testing.T) {
	client := &mockSES{}
	n := services.NewSESLockoutNotifierWithClient(client, "security@example.com", time.Second, discardLogger())

	require.NoError(t, n.NotifyAccountLocked(context.Background(), "svc-account-42", "org_1"))
	assert.Empty(t, client.inputs)
}

func TestSESLockoutNotifier_WrapsSendErrors(t *testing.T) {
	client := &mockSES{sendFunc: func(ctx context.Context, _ *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil, errors.New("throttled")
	}}
	n := services.NewSESLockoutNotifierWithClient(client, "security@example.com", time.Second, discardLogger())

	err := n.NotifyAccountLocked(context.Background(), "bob@example.com", "org_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestNoopLockoutNotifier(t *testing.T) {
	assert.NoError(t, services.NoopLockoutNotifier{}.NotifyAccountLocked(context.Background(), "a@b.c", "org"))
}
