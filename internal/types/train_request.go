package types

// Wire contracts shared with the serverless worker. These mirror the
// worker's request/response schema exactly; the config snapshot stored on a
// Job is a serialized TrainConfig.

type QAPair struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type EvalQuestion struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

type Hyperparams struct {
	LearningRate      float64  `json:"learning_rate"`
	NumEpochs         int      `json:"num_epochs"`
	BatchSize         int      `json:"batch_size"`
	LoraRank          int      `json:"lora_rank"`
	LoraAlpha         int      `json:"lora_alpha"`
	LoraTargetModules []string `json:"lora_target_modules,omitempty"`
	Quantization      string   `json:"quantization"` // 4bit|8bit|none
	MaxSeqLength      int      `json:"max_seq_length"`
	WarmupRatio       float64  `json:"warmup_ratio"`
	WeightDecay       float64  `json:"weight_decay"`
}

const (
	InfluenceMethodTracin      = "tracin"
	InfluenceMethodDatainf     = "datainf"
	InfluenceMethodKronfluence = "kronfluence"
)

// TrainConfig is the immutable config snapshot captured at submission.
type TrainConfig struct {
	ModelID            string         `json:"model_id"`
	TrainingData       []QAPair       `json:"training_data"`
	EvalData           []EvalQuestion `json:"eval_data"`
	Hyperparams        Hyperparams    `json:"hyperparams"`
	InfluenceMethod    string         `json:"influence_method"`
	CheckpointInterval int            `json:"checkpoint_interval"`
	ExperimentRef      string         `json:"experiment_ref,omitempty"`
}

type EvalResult struct {
	EvalQuestion    string `json:"eval_question"`
	BaseOutput      string `json:"base_output"`
	FewshotOutput   string `json:"fewshot_output"`
	FinetunedOutput string `json:"finetuned_output"`
}

type InfluenceMatrix struct {
	TrainingLabels []string    `json:"training_labels"`
	EvalLabels     []string    `json:"eval_labels"`
	Scores         [][]float64 `json:"scores"`
}

type TrainingMetadata struct {
	TotalTrainingTimeSeconds  float64   `json:"total_training_time_seconds"`
	TotalInfluenceTimeSeconds float64   `json:"total_influence_time_seconds"`
	PeakGPUMemoryGB           float64   `json:"peak_gpu_memory_gb"`
	FinalTrainingLoss         float64   `json:"final_training_loss"`
	LossHistory               []float64 `json:"loss_history"`
}

// ResultsPayload is the completed-job results document persisted on the Job
// row and returned by the results endpoint.
type ResultsPayload struct {
	EvalResults      []EvalResult     `json:"eval_results"`
	Influence        InfluenceMatrix  `json:"influence"`
	TrainingMetadata TrainingMetadata `json:"training_metadata"`
}
