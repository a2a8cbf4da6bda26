//go:build protogen

package grpcserver

import (
	"context"

	"github.com/roamly/roamly/libs/db"
	catalogv1 "github.com/roamly/roamly/protos/gen/catalog/v1"
	"github.com/roamly/roamly/services/catalog-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type server struct {
	catalogv1.UnimplementedCatalogServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	catalogv1.RegisterCatalogServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

func (s *server) GetExperience(ctx context.Context, req *catalogv1.ExperienceRequest) (*catalogv1.ExperienceResponse, error) {
	if req.GetExperienceId() == "" {
		return nil, status.Error(codes.InvalidArgument, "experience_id required")
	}

	exp, err := s.repo.GetExperience(ctx, req.GetExperienceId())
	if err != nil {
		return nil, status.Error(codes.NotFound, "experience not found")
	}

	return &catalogv1.ExperienceResponse{
		ExperienceId: exp.ID,
		VendorId:     exp.VendorID,
		Title:        exp.Title,
		Timezone:     exp.Timezone,
		PriceCents:   exp.PriceCents,
		Currency:     exp.Currency,
		IsPublished:  exp.IsPublished,
	}, nil
}

func (s *server) ListTimeSlots(ctx context.Context, req *catalogv1.TimeSlotsRequest) (*catalogv1.TimeSlotsResponse, error) {
	if req.GetExperienceId() == "" {
		return nil, status.Error(codes.InvalidArgument, "experience_id required")
	}

	slots, err := s.repo.ListTimeSlots(ctx, req.GetExperienceId())
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to list time slots")
	}

	resp := &catalogv1.TimeSlotsResponse{ExperienceId: req.GetExperienceId()}
	for _, slot := range slots {
		resp.Slots = append(resp.Slots, &catalogv1.TimeSlot{
			Id:          slot.ID,
			ActivityId:  slot.ActivityID,
			StartMinute: int32(slot.StartMinute),
			EndMinute:   int32(slot.EndMinute),
			Capacity:    int32(slot.Capacity),
		})
	}
	return resp, nil
}
