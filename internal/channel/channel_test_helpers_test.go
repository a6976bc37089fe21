package channel

import (
	"context"

	"github.com/brightloom/notifyd/internal/model"
)

type fakeConfigLookup struct {
	enabled map[model.Channel]bool
}

func (f *fakeConfigLookup) FindChannelConfig(_ context.Context, ch model.Channel) (*model.ChannelConfig, error) {
	return &model.ChannelConfig{Channel: ch, Enabled: f.enabled[ch]}, nil
}

func allEnabled() *fakeConfigLookup {
	return &fakeConfigLookup{enabled: map[model.Channel]bool{
		model.ChannelEmail:    true,
		model.ChannelTelegram: true,
		model.ChannelSMS:      true,
		model.ChannelWhatsApp: true,
	}}
}
