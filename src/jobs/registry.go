package jobs

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"ladderexecutor/src/gateway"
	"ladderexecutor/src/model"
	"ladderexecutor/src/orderexec"
	"ladderexecutor/src/position"
	"ladderexecutor/src/repricer"
)

// Runner executes one leased ledger entry with its decoded arguments.
type Runner func(ctx context.Context, args []string) error

// Registry maps ledger work classes to their runners. Lookup is
// explicit; there is no reflective construction of job types.
type Registry map[string]Runner

// NewRegistry wires every work class to the state machines it drives.
func NewRegistry(db *gorm.DB, caller gateway.Caller) Registry {
	orchestrator := position.NewOrchestrator(db, caller)
	dispatcher := orderexec.NewDispatcher(db, caller)
	pricer := repricer.NewRepricer(db, caller)

	return Registry{
		model.JobClassDispatchPosition: func(ctx context.Context, args []string) error {
			id, err := singleID(args)
			if err != nil {
				return err
			}
			return orchestrator.Dispatch(ctx, id)
		},
		model.JobClassValidatePosition: func(ctx context.Context, args []string) error {
			id, err := singleID(args)
			if err != nil {
				return err
			}
			return orchestrator.Validate(ctx, id)
		},
		model.JobClassRollbackPosition: func(ctx context.Context, args []string) error {
			id, err := singleID(args)
			if err != nil {
				return err
			}
			return orchestrator.Rollback(ctx, id)
		},
		model.JobClassClosePosition: func(ctx context.Context, args []string) error {
			id, err := singleID(args)
			if err != nil {
				return err
			}
			return orchestrator.Close(ctx, id)
		},
		model.JobClassRepricePosition: func(ctx context.Context, args []string) error {
			id, err := singleID(args)
			if err != nil {
				return err
			}
			return pricer.RepricePosition(ctx, id)
		},
		model.JobClassDispatchOrder: func(ctx context.Context, args []string) error {
			id, err := singleID(args)
			if err != nil {
				return err
			}
			return dispatcher.Dispatch(ctx, id)
		},
		model.JobClassCancelOrder: func(ctx context.Context, args []string) error {
			id, err := singleID(args)
			if err != nil {
				return err
			}
			return dispatcher.Cancel(ctx, id)
		},
	}
}

func singleID(args []string) (uint, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one argument, got %d", len(args))
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id argument %q: %w", args[0], err)
	}
	return uint(id), nil
}
