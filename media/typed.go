package media

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/sceneflow/media/fingerprint"
	"github.com/BaSui01/sceneflow/media/poll"
	"github.com/BaSui01/sceneflow/types"
)

// ExecuteTyped is a type-safe wrapper around [Coordinator.Execute].
// It automatically unmarshals the terminal payload into the target type T,
// so capability clients never handle raw JSON themselves.
//
// Usage:
//
//	art, err := media.ExecuteTyped[AudioArtifact](ctx, co, Capability, fp, submit, check, cfg)
func ExecuteTyped[T any](
	ctx context.Context,
	co *Coordinator,
	capability string,
	fp fingerprint.Digest,
	submit SubmitFunc,
	check CheckFunc,
	pollCfg poll.Config,
) (*T, error) {
	payload, err := co.Execute(ctx, capability, fp, submit, check, pollCfg)
	if err != nil {
		return nil, err
	}
	var result T
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, types.NewError(types.ErrTaskFailed, "decode "+capability+" result payload").
			WithBackend(capability).WithCause(err)
	}
	return &result, nil
}
