package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ucx/internal/modules/extension/domain"
	"ucx/internal/modules/extension/dto"
	extin "ucx/internal/modules/extension/port/in"
	"ucx/internal/modules/extension/service"
)

type Interactor struct {
	node      *service.NodeService
	registry  *service.RegistryService
	executor  *service.ExecutorService
	publisher *service.PublisherService
}

func NewInteractor(
	node *service.NodeService,
	registry *service.RegistryService,
	executor *service.ExecutorService,
	publisher *service.PublisherService,
) extin.Usecase {
	return &Interactor{node: node, registry: registry, executor: executor, publisher: publisher}
}

func (i *Interactor) RunNode(ctx context.Context) error {
	return i.node.Run(ctx)
}

func (i *Interactor) ScanFor(ctx context.Context, window time.Duration) error {
	return i.node.ScanFor(ctx, window)
}

func (i *Interactor) WithNode(ctx context.Context, window time.Duration, fn func(ctx context.Context) error) error {
	if err := i.node.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = i.node.Stop() }()

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return fn(ctx)
}

func (i *Interactor) Offers(_ context.Context) ([]dto.OfferInfo, error) {
	offers := i.registry.Offers()
	out := make([]dto.OfferInfo, 0, len(offers))
	for _, offer := range offers {
		out = append(out, dto.OfferInfo{
			ID:          offer.Manifest.ID,
			Name:        offer.Manifest.Name,
			Description: offer.Manifest.Description,
			Version:     offer.Manifest.EffectiveVersion(),
			PeerIDs:     offer.PeerIDs,
			FirstSeenAt: offer.FirstSeenAt,
			LastSeenAt:  offer.LastSeenAt,
		})
	}
	return out, nil
}

func (i *Interactor) Installed(_ context.Context) ([]dto.InstalledInfo, error) {
	installed := i.registry.Installed()
	out := make([]dto.InstalledInfo, 0, len(installed))
	for _, ins := range installed {
		out = append(out, installedInfo(ins))
	}
	return out, nil
}

func (i *Interactor) Install(ctx context.Context, extensionID string) (dto.InstalledInfo, error) {
	ins, err := i.registry.Install(ctx, extensionID)
	if err != nil {
		return dto.InstalledInfo{}, err
	}
	return installedInfo(ins), nil
}

func (i *Interactor) Uninstall(ctx context.Context, extensionID string) error {
	return i.registry.Uninstall(ctx, extensionID)
}

func (i *Interactor) Dismiss(_ context.Context, extensionID string) error {
	return i.registry.Dismiss(extensionID)
}

func (i *Interactor) SetEnabled(ctx context.Context, extensionID string, enabled bool) error {
	return i.registry.SetEnabled(ctx, extensionID, enabled)
}

func (i *Interactor) Execute(ctx context.Context, input dto.ExecuteInput) (dto.ExecuteOutput, error) {
	data, peerID, err := i.executor.Execute(ctx, input.ExtensionID, input.Command, input.Args)
	if err != nil {
		return dto.ExecuteOutput{}, err
	}
	return dto.ExecuteOutput{
		ExtensionID: input.ExtensionID,
		Command:     input.Command,
		PeerID:      peerID,
		Data:        data,
	}, nil
}

// ExecuteLine runs a raw chat line like "/sheet-write doc A1=25".
func (i *Interactor) ExecuteLine(ctx context.Context, line string) (dto.ExecuteOutput, error) {
	cmd, ok := domain.ParseChatCommand(line)
	if !ok {
		return dto.ExecuteOutput{}, fmt.Errorf("%w: %q", domain.ErrNotACommand, line)
	}
	if !cmd.Valid() {
		return dto.ExecuteOutput{}, fmt.Errorf("%w: %q", domain.ErrInvalidCommand, line)
	}
	return i.Execute(ctx, dto.ExecuteInput{
		ExtensionID: cmd.ExtensionID,
		Command:     cmd.Command,
		Args:        cmd.Args,
	})
}

func (i *Interactor) PublishedList(_ context.Context) ([]dto.PublishedInfo, error) {
	records := i.publisher.Published()
	out := make([]dto.PublishedInfo, 0, len(records))
	for _, record := range records {
		out = append(out, dto.PublishedInfo{
			ID:       record.Manifest.ID,
			Name:     record.Manifest.Name,
			Version:  record.Manifest.EffectiveVersion(),
			Binary:   record.Binary,
			Commands: len(record.Manifest.Commands),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (i *Interactor) Status(_ context.Context) (dto.NodeStatus, error) {
	return dto.NodeStatus{
		PeerID:      i.node.LocalPeerID(),
		ListenAddrs: i.node.ListenAddrs(),
		Offers:      len(i.registry.Offers()),
		Installed:   len(i.registry.Installed()),
		Published:   len(i.publisher.Published()),
	}, nil
}

func installedInfo(ins domain.Installed) dto.InstalledInfo {
	commands := make([]dto.CommandInfo, 0, len(ins.Manifest.Commands))
	for _, spec := range ins.Manifest.Commands {
		commands = append(commands, dto.CommandInfo{
			Name:        spec.Name,
			Syntax:      spec.Syntax,
			Description: spec.Description,
		})
	}
	return dto.InstalledInfo{
		ID:                   ins.Manifest.ID,
		Name:                 ins.Manifest.Name,
		Description:          ins.Manifest.Description,
		Version:              ins.Manifest.EffectiveVersion(),
		Enabled:              ins.Enabled,
		PeerIDs:              ins.PeerIDs,
		LastSuccessfulPeerID: ins.LastSuccessfulPeerID,
		InstalledAt:          ins.InstalledAt,
		Commands:             commands,
	}
}
