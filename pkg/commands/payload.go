// Package commands builds the interaction payloads the bridge sends. Slash
// commands are type 2; button presses on an existing job message are type 3
// with a MJ::... custom id.
package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sipeed/mjbridge/pkg/config"
	"github.com/sipeed/mjbridge/pkg/dispatch"
	"github.com/sipeed/mjbridge/pkg/jobs"
)

const (
	interactionSlash     = 2
	interactionComponent = 3

	commandTypeChatInput = 1
	optionTypeString     = 3
	componentTypeButton  = 2

	// flagEphemeral marks follow-ups on jobs only the requester can see.
	flagEphemeral = 64

	soloSuffix = "::SOLO"
)

type option struct {
	Type  int    `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type slashData struct {
	Version     string        `json:"version"`
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        int           `json:"type"`
	Options     []option      `json:"options"`
	Attachments []interface{} `json:"attachments"`
}

type slashPayload struct {
	Type          int       `json:"type"`
	ApplicationID string    `json:"application_id"`
	GuildID       string    `json:"guild_id,omitempty"`
	ChannelID     string    `json:"channel_id"`
	Data          slashData `json:"data"`
}

type componentData struct {
	ComponentType int    `json:"component_type"`
	CustomID      string `json:"custom_id"`
}

type componentPayload struct {
	Type          int           `json:"type"`
	ApplicationID string        `json:"application_id"`
	GuildID       string        `json:"guild_id,omitempty"`
	ChannelID     string        `json:"channel_id"`
	MessageFlags  int           `json:"message_flags"`
	MessageID     string        `json:"message_id"`
	Data          componentData `json:"data"`
}

type Builder struct {
	applicationID string
	guildID       string
	channelID     string
	commands      config.CommandsConfig
}

func NewBuilder(discord config.DiscordConfig, cmds config.CommandsConfig) *Builder {
	return &Builder{
		applicationID: discord.ApplicationID,
		guildID:       discord.GuildID,
		channelID:     discord.ChannelID,
		commands:      cmds,
	}
}

func (b *Builder) Imagine(prompt string) (dispatch.Command, error) {
	if strings.TrimSpace(prompt) == "" {
		return dispatch.Command{}, fmt.Errorf("imagine: prompt is empty")
	}
	return b.slash(jobs.KindGenerate, "imagine", b.commands.Imagine, []option{
		{Type: optionTypeString, Name: "prompt", Value: prompt},
	})
}

func (b *Builder) Info() (dispatch.Command, error) {
	return b.slash(jobs.KindInfoQuery, "info", b.commands.Info, []option{})
}

func (b *Builder) Show(jobID string) (dispatch.Command, error) {
	if strings.TrimSpace(jobID) == "" {
		return dispatch.Command{}, fmt.Errorf("show: job id is empty")
	}
	return b.slash(jobs.KindShowQuery, "show", b.commands.Show, []option{
		{Type: optionTypeString, Name: "job_id", Value: jobID},
	})
}

// Upscale presses U<index> on a grid, index 1..4.
func (b *Builder) Upscale(ref jobs.Ref, index int) (dispatch.Command, error) {
	if err := checkIndex(index); err != nil {
		return dispatch.Command{}, err
	}
	return b.component(jobs.KindUpscale, fmt.Sprintf("upsample_%d", index), ref,
		fmt.Sprintf("MJ::JOB::upsample::%d::%s", index, ref.JobID), ref.Ephemeral)
}

// Variation presses V<index> on a grid, index 1..4.
func (b *Builder) Variation(ref jobs.Ref, index int) (dispatch.Command, error) {
	if err := checkIndex(index); err != nil {
		return dispatch.Command{}, err
	}
	return b.component(jobs.KindVariation, fmt.Sprintf("variation_%d", index), ref,
		fmt.Sprintf("MJ::JOB::variation::%d::%s", index, ref.JobID), ref.Ephemeral)
}

func (b *Builder) Reroll(ref jobs.Ref) (dispatch.Command, error) {
	return b.component(jobs.KindReroll, "reroll", ref,
		"MJ::JOB::reroll::0::"+ref.JobID, true)
}

// ZoomOut is the 2x outpaint button on an upscaled image.
func (b *Builder) ZoomOut(ref jobs.Ref) (dispatch.Command, error) {
	return b.component(jobs.KindZoomOut, "zoom_out", ref,
		"MJ::Outpaint::50::1::"+ref.JobID, true)
}

func (b *Builder) Upscale4x(ref jobs.Ref) (dispatch.Command, error) {
	return b.component(jobs.KindUpscale4x, "upscale_4x", ref,
		"MJ::JOB::upsample_v5_4x::1::"+ref.JobID, true)
}

func (b *Builder) Cancel(ref jobs.Ref) (dispatch.Command, error) {
	return b.component(jobs.KindCancel, "cancel", ref,
		"MJ::CancelJob::ByJobid::"+ref.JobID, false)
}

func (b *Builder) slash(kind jobs.Kind, name string, cmd config.SlashCommand, opts []option) (dispatch.Command, error) {
	if b.channelID == "" {
		return dispatch.Command{}, fmt.Errorf("%s: channel id is not configured", name)
	}
	p := slashPayload{
		Type:          interactionSlash,
		ApplicationID: b.applicationID,
		GuildID:       b.guildID,
		ChannelID:     b.channelID,
		Data: slashData{
			Version:     cmd.Version,
			ID:          cmd.ID,
			Name:        name,
			Type:        commandTypeChatInput,
			Options:     opts,
			Attachments: []interface{}{},
		},
	}
	return encode(kind, name, p)
}

// component builds a button press. The custom id gets ::SOLO for ephemeral
// jobs, and always when solo is set.
func (b *Builder) component(kind jobs.Kind, label string, ref jobs.Ref, customID string, solo bool) (dispatch.Command, error) {
	if err := ref.Validate(); err != nil {
		return dispatch.Command{}, fmt.Errorf("%s: %w", label, err)
	}
	if b.channelID == "" {
		return dispatch.Command{}, fmt.Errorf("%s: channel id is not configured", label)
	}
	if solo || ref.Ephemeral {
		customID += soloSuffix
	}

	flags := 0
	if ref.Ephemeral {
		flags = flagEphemeral
	}
	p := componentPayload{
		Type:          interactionComponent,
		ApplicationID: b.applicationID,
		GuildID:       b.guildID,
		ChannelID:     b.channelID,
		MessageFlags:  flags,
		MessageID:     ref.MessageID,
		Data: componentData{
			ComponentType: componentTypeButton,
			CustomID:      customID,
		},
	}
	return encode(kind, label, p)
}

func encode(kind jobs.Kind, label string, v interface{}) (dispatch.Command, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return dispatch.Command{}, fmt.Errorf("%s: encode payload: %w", label, err)
	}
	return dispatch.Command{Kind: kind, Label: label, Payload: data}, nil
}

func checkIndex(index int) error {
	if index < 1 || index > 4 {
		return fmt.Errorf("image index %d out of range 1..4", index)
	}
	return nil
}
