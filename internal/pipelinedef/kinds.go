package pipelinedef

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/model"
)

// stageKind binds a builtin work function to its declared outputs and
// required parameters. The code version tags the implementation so a
// changed builtin invalidates cached outputs.
type stageKind struct {
	codeVersion    string
	requiredParams []string
	outputs        []domain.StageOutput
	work           domain.WorkFunc
}

func (k stageKind) stage(def StageDef) domain.Stage {
	return domain.Stage{
		ID:          def.Name,
		DependsOn:   def.DependsOn,
		ParamKeys:   def.Params,
		Outputs:     k.outputs,
		CodeVersion: k.codeVersion,
		Work:        k.work,
	}
}

var builtins = map[string]stageKind{
	"csv-source": {
		codeVersion:    "csv-source/v1",
		requiredParams: []string{"data"},
		outputs:        []domain.StageOutput{{Name: "raw", Kind: domain.ArtifactKindDataset}},
		work:           csvSourceWork,
	},
	"standardize": {
		codeVersion: "standardize/v1",
		outputs:     []domain.StageOutput{{Name: "features", Kind: domain.ArtifactKindDataset}},
		work:        standardizeWork,
	},
	"train-linear": {
		codeVersion:    "train-linear/v1",
		requiredParams: []string{"lr", "epochs"},
		outputs: []domain.StageOutput{
			{Name: "model", Kind: domain.ArtifactKindModel},
			{Name: "metrics", Kind: domain.ArtifactKindMetricSet},
		},
		work: trainLinearWork,
	},
}

func builtinKind(name string) (stageKind, bool) {
	kind, ok := builtins[name]
	return kind, ok
}

// csvSourceWork emits its "data" parameter as the raw dataset. Feeding
// data through a parameter keeps the content inside the fingerprint.
func csvSourceWork(ctx context.Context, in domain.StageInput) (map[string][]byte, error) {
	data := in.Params["data"]
	if data == "" {
		return nil, fmt.Errorf("parameter \"data\" is empty")
	}
	return map[string][]byte{"raw": []byte(data)}, nil
}

// standardizeWork z-scores every feature column of its single upstream
// dataset; the target column passes through untouched.
func standardizeWork(ctx context.Context, in domain.StageInput) (map[string][]byte, error) {
	payload, err := singleUpstream(in)
	if err != nil {
		return nil, err
	}
	table, err := parseTable(payload)
	if err != nil {
		return nil, err
	}
	if table.columns() < 2 {
		return nil, fmt.Errorf("need at least one feature column and a target column")
	}

	for col := 0; col < table.columns()-1; col++ {
		mean, std := table.columnStats(col)
		if std == 0 {
			std = 1
		}
		for row := range table.rows {
			table.rows[row][col] = (table.rows[row][col] - mean) / std
		}
	}
	return map[string][]byte{"features": table.encode()}, nil
}

// trainLinearWork fits a linear model by gradient descent on its
// single upstream dataset. The last column is the target. Training is
// deterministic: zero-initialized weights, fixed iteration order.
func trainLinearWork(ctx context.Context, in domain.StageInput) (map[string][]byte, error) {
	payload, err := singleUpstream(in)
	if err != nil {
		return nil, err
	}
	table, err := parseTable(payload)
	if err != nil {
		return nil, err
	}
	if table.columns() < 2 || len(table.rows) == 0 {
		return nil, fmt.Errorf("training data needs rows and a target column")
	}

	lr, err := floatParam(in.Params, "lr")
	if err != nil {
		return nil, err
	}
	epochs, err := intParam(in.Params, "epochs")
	if err != nil {
		return nil, err
	}
	if lr <= 0 || epochs <= 0 {
		return nil, fmt.Errorf("lr and epochs must be positive")
	}

	featureCount := table.columns() - 1
	weights := make([]float64, featureCount)
	bias := 0.0
	n := float64(len(table.rows))

	for epoch := 0; epoch < epochs; epoch++ {
		gradW := make([]float64, featureCount)
		gradB := 0.0
		for _, row := range table.rows {
			pred := bias
			for i := 0; i < featureCount; i++ {
				pred += weights[i] * row[i]
			}
			diff := pred - row[featureCount]
			for i := 0; i < featureCount; i++ {
				gradW[i] += diff * row[i]
			}
			gradB += diff
		}
		for i := 0; i < featureCount; i++ {
			weights[i] -= lr * gradW[i] / n
		}
		bias -= lr * gradB / n
	}

	mse := 0.0
	for _, row := range table.rows {
		pred := bias
		for i := 0; i < featureCount; i++ {
			pred += weights[i] * row[i]
		}
		diff := pred - row[featureCount]
		mse += diff * diff
	}
	mse /= n

	encoded, err := model.EncodeLinear(model.Linear{
		Features: table.header[:featureCount],
		Weights:  weights,
		Bias:     bias,
	})
	if err != nil {
		return nil, err
	}
	metrics, err := json.Marshal(map[string]float64{
		"mse":    mse,
		"rows":   n,
		"epochs": float64(epochs),
	})
	if err != nil {
		return nil, err
	}
	return map[string][]byte{"model": encoded, "metrics": metrics}, nil
}

func singleUpstream(in domain.StageInput) ([]byte, error) {
	if len(in.Upstream) != 1 {
		return nil, fmt.Errorf("expected exactly one upstream dataset, got %d", len(in.Upstream))
	}
	for _, payload := range in.Upstream {
		return payload, nil
	}
	return nil, nil
}
