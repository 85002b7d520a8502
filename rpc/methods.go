package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
	"github.com/spooky-finn/go-orderbook-live/presentation"
	"github.com/spooky-finn/go-orderbook-live/usecase"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func (s *server) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return snapshotStruct(s.storage.Current())
}

func (s *server) GetView(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.currentView(s.storage.Current())
}

func (s *server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return statusStruct(s.controller.Status())
}

func (s *server) SetPair(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	pair, err := domain.NewPair(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !s.validationService.IsSupportedPair(pair) {
		return nil, status.Errorf(codes.InvalidArgument, "pair %s is not supported", pair)
	}

	if err := s.controller.SetPair(ctx, pair.String()); err != nil {
		s.log.WithError(err).WithFields(logger.Fields{"pair": pair.String()}).Warn("set pair failed")
		switch {
		case errors.Is(err, domain.ErrInvalidPair):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, usecase.ErrSubscriptionSuperseded):
			return nil, status.Error(codes.Aborted, err.Error())
		default:
			return nil, status.Error(codes.Unavailable, err.Error())
		}
	}

	return statusStruct(s.controller.Status())
}

func (s *server) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.controller.Stop()
	return statusStruct(s.controller.Status())
}

// WatchView sends the current view and then one view per store change until
// the client goes away.
func (s *server) WatchView(_ *emptypb.Empty, stream grpc.ServerStream) error {
	subscription := s.storage.Subscribe()
	defer subscription.Unsubscribe()

	view, err := s.currentView(s.storage.Current())
	if err != nil {
		return err
	}
	if err := stream.SendMsg(view); err != nil {
		return err
	}

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case snapshot, ok := <-subscription.Stream:
			if !ok {
				return nil
			}
			view, err := s.currentView(snapshot)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(view); err != nil {
				return err
			}
		}
	}
}

func (s *server) currentView(snapshot domain.OrderBookSnapshot) (*structpb.Struct, error) {
	view := presentation.Render(s.controller.Status().Pair, snapshot)
	b, err := json.Marshal(view)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// snapshotStruct keeps prices and quantities as the text they were received
// as. A missing value becomes null.
func snapshotStruct(snapshot domain.OrderBookSnapshot) (*structpb.Struct, error) {
	top := snapshot.TopOfBook
	out, err := structpb.NewStruct(map[string]interface{}{
		"top_of_book": map[string]interface{}{
			"best_bid_price": valueOrNil(top.BestBidPrice),
			"best_bid_qty":   valueOrNil(top.BestBidQty),
			"best_ask_price": valueOrNil(top.BestAskPrice),
			"best_ask_qty":   valueOrNil(top.BestAskQty),
		},
		"order_book_depth": map[string]interface{}{
			"bids": levelList(snapshot.OrderBookDepth.Bids),
			"asks": levelList(snapshot.OrderBookDepth.Asks),
		},
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func statusStruct(st usecase.Status) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"state":         st.State.String(),
		"pair":          st.Pair.String(),
		"connection_id": st.ConnectionID,
		"error":         nil,
	}
	if st.Err != nil {
		fields["error"] = st.Err.Error()
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode status: %v", err))
	}
	return out, nil
}

func valueOrNil(v domain.Value) interface{} {
	if v.IsEmpty() {
		return nil
	}
	return v.String()
}

func levelList(levels []domain.DepthLevel) []interface{} {
	out := make([]interface{}, 0, len(levels))
	for _, l := range levels {
		out = append(out, []interface{}{l.Price.String(), l.Quantity.String()})
	}
	return out
}
