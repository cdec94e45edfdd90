// Package services – ChannelService
package services

import (
	"context"

	"github.com/harsh-dev0/Slack-connect/internal/slack"
)

// ChannelLister fetches the conversations visible to an access token.
// *slack.Client satisfies this.
type ChannelLister interface {
	ListChannels(ctx context.Context, accessToken string) ([]slack.Channel, error)
}

// ChannelService lists the Slack channels a connected user can post to.
type ChannelService struct {
	Tokens TokenResolver
	Slack  ChannelLister
}

// List resolves the user's token and returns their visible channels.
// Credential errors (ErrUserNotFound, ErrTokenUnrefreshable) pass through
// for the handler to map.
func (s *ChannelService) List(ctx context.Context, userID string) ([]slack.Channel, error) {
	token, err := s.Tokens.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Slack.ListChannels(ctx, token)
}
