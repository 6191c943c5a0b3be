package domain

const (
	//QueueName definition processing queue name
	QueueName = "video_processing"
)

// 處理管線的四個 job type
const (
	//JobMetadataExtraction ffprobe 萃取 metadata，優先權最高
	JobMetadataExtraction = "metadata_extraction"
	//JobThumbnail 擷取縮圖
	JobThumbnail = "thumbnail"
	//JobPreview 產生預覽 GIF
	JobPreview = "preview"
	//JobTranscode 轉碼階梯與 HLS
	JobTranscode = "transcode"
)

// 各 job type 的派發優先權，metadata 先做其他 stage 才有得用
const (
	PriorityMetadata  = 10
	PriorityThumbnail = 5
	PriorityPreview   = 5
	PriorityTranscode = 3
)

// ProcessingJobPayload 定義處理工作訊息
type ProcessingJobPayload struct {
	VideoID        string `json:"videoId"`
	JobType        string `json:"jobType"`
	InputPath      string `json:"inputPath"`      // 原始檔在 MinIO 上的 object key
	OutputBasePath string `json:"outputBasePath"` // 衍生檔的 object key 前綴
	Priority       int    `json:"priority"`
	Attempts       int    `json:"attempts"`
	MaxAttempts    int    `json:"maxAttempts"`
}

// PipelineStage 上傳後排入佇列的單一 stage
type PipelineStage struct {
	Type     string
	Priority int
}

// PipelineStages 上傳後要排入的全部 stage，依優先權排
func PipelineStages() []PipelineStage {
	return []PipelineStage{
		{JobMetadataExtraction, PriorityMetadata},
		{JobThumbnail, PriorityThumbnail},
		{JobPreview, PriorityPreview},
		{JobTranscode, PriorityTranscode},
	}
}
