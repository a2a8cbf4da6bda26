//go:build protogen

package catalog

import (
	"context"
	"time"

	"github.com/roamly/roamly/libs/grpcx"
	catalogv1 "github.com/roamly/roamly/protos/gen/catalog/v1"
	"google.golang.org/grpc"
)

type ExperienceInfo struct {
	ID         string
	VendorID   string
	Title      string
	Timezone   string
	PriceCents int64
	Currency   string
}

type Provider interface {
	GetExperience(ctx context.Context, experienceID string) (ExperienceInfo, error)
}

type grpcProvider struct {
	conn   *grpc.ClientConn
	client catalogv1.CatalogServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{conn: conn, client: catalogv1.NewCatalogServiceClient(conn)}, nil
}

func (p *grpcProvider) Close() error {
	return p.conn.Close()
}

func (p *grpcProvider) GetExperience(ctx context.Context, experienceID string) (ExperienceInfo, error) {
	resp, err := p.client.GetExperience(ctx, &catalogv1.ExperienceRequest{
		ExperienceId: experienceID,
	})
	if err != nil {
		return ExperienceInfo{}, err
	}
	return ExperienceInfo{
		ID:         resp.GetExperienceId(),
		VendorID:   resp.GetVendorId(),
		Title:      resp.GetTitle(),
		Timezone:   resp.GetTimezone(),
		PriceCents: resp.GetPriceCents(),
		Currency:   resp.GetCurrency(),
	}, nil
}
