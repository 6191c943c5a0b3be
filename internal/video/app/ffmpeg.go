package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"video_platform_service/internal/video/domain"
	"video_platform_service/pkg/logger"
)

// TranscodeVariant 轉碼階梯單一檔位的輸出
type TranscodeVariant struct {
	Label      string
	Resolution string
	Bitrate    int64
	LocalPath  string
	FileSize   int64
}

// TranscodeResult 轉碼階梯加 HLS master playlist
type TranscodeResult struct {
	Variants       []TranscodeVariant
	MasterPlaylist string // master.m3u8 的本地路徑
	SegmentDir     string // TS 分段檔目錄
}

// MediaProcessor 把 ffmpeg/ffprobe 關在介面後面，worker 測試用 mock 替換
type MediaProcessor interface {
	ExtractMetadata(ctx context.Context, inputPath string) (domain.VideoMetadata, error)
	GenerateThumbnail(ctx context.Context, inputPath, outputPath string) error
	GeneratePreview(ctx context.Context, inputPath, outputPath string) error
	Transcode(ctx context.Context, inputPath, outputDir string) (*TranscodeResult, error)
}

// 轉碼階梯，由高到低
var transcodeLadder = []struct {
	Label   string
	Scale   string
	Bitrate int64
}{
	{"1080p", "1920:1080", 5000_000},
	{"720p", "1280:720", 2800_000},
	{"480p", "854:480", 1400_000},
}

type ffmpegProcessor struct{}

// NewFFmpegProcessor create MediaProcessor backed by ffmpeg/ffprobe
func NewFFmpegProcessor() MediaProcessor {
	return &ffmpegProcessor{}
}

// ffprobe 的 JSON 輸出，只取需要的欄位
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// ExtractMetadata 用 ffprobe 萃取影片技術資訊
func (p *ffmpegProcessor) ExtractMetadata(ctx context.Context, inputPath string) (domain.VideoMetadata, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return domain.VideoMetadata{}, fmt.Errorf("ffprobe 執行失敗: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return domain.VideoMetadata{}, fmt.Errorf("ffprobe 輸出解析失敗: %w", err)
	}

	meta := domain.VideoMetadata{Format: probe.Format.FormatName}
	meta.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	meta.FileSize, _ = strconv.ParseInt(probe.Format.Size, 10, 64)
	meta.Bitrate, _ = strconv.ParseInt(probe.Format.BitRate, 10, 64)
	for _, stream := range probe.Streams {
		if stream.CodecType == "video" {
			meta.Resolution = fmt.Sprintf("%dx%d", stream.Width, stream.Height)
			break
		}
	}
	return meta, nil
}

// GenerateThumbnail 取第 10 秒的影格當縮圖
func (p *ffmpegProcessor) GenerateThumbnail(ctx context.Context, inputPath, outputPath string) error {
	cmdArgs := []string{
		"-ss", "10",
		"-i", inputPath,
		"-vframes", "1",
		"-vf", "scale=640:-1",
		"-y",
		outputPath,
	}
	logger.Log.Debug(fmt.Sprintf("執行 FFmpeg thumbnail: ffmpeg %v", cmdArgs))
	cmd := exec.CommandContext(ctx, "ffmpeg", cmdArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg thumbnail 錯誤: %v, output: %s", err, string(output))
	}
	return nil
}

// GeneratePreview 從第 10 秒截 3 秒做預覽 GIF
func (p *ffmpegProcessor) GeneratePreview(ctx context.Context, inputPath, outputPath string) error {
	cmdArgs := []string{
		"-ss", "10",
		"-t", "3",
		"-i", inputPath,
		"-vf", "fps=10,scale=320:-1",
		"-y",
		outputPath,
	}
	logger.Log.Debug(fmt.Sprintf("執行 FFmpeg preview: ffmpeg %v", cmdArgs))
	cmd := exec.CommandContext(ctx, "ffmpeg", cmdArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg preview 錯誤: %v, output: %s", err, string(output))
	}
	return nil
}

// Transcode 跑完整轉碼階梯並產生 HLS master playlist
func (p *ffmpegProcessor) Transcode(ctx context.Context, inputPath, outputDir string) (*TranscodeResult, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("建立轉碼輸出目錄失敗: %w", err)
	}

	result := &TranscodeResult{SegmentDir: outputDir}
	for _, tier := range transcodeLadder {
		outPath := filepath.Join(outputDir, tier.Label+".mp4")
		cmdArgs := []string{
			"-i", inputPath,
			"-c:v", "libx264",
			"-c:a", "aac",
			"-vf", "scale=" + tier.Scale,
			"-b:v", strconv.FormatInt(tier.Bitrate, 10),
			"-y",
			outPath,
		}
		logger.Log.Debug(fmt.Sprintf("執行 FFmpeg transcode %s: ffmpeg %v", tier.Label, cmdArgs))
		cmd := exec.CommandContext(ctx, "ffmpeg", cmdArgs...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("FFmpeg transcode %s 錯誤: %v, output: %s", tier.Label, err, string(output))
		}

		var size int64
		if info, err := os.Stat(outPath); err == nil {
			size = info.Size()
		}
		result.Variants = append(result.Variants, TranscodeVariant{
			Label:      tier.Label,
			Resolution: tier.Scale,
			Bitrate:    tier.Bitrate,
			LocalPath:  outPath,
			FileSize:   size,
		})
	}

	// 最高檔位轉 HLS 分段，再寫 master playlist
	hlsArgs := []string{
		"-i", result.Variants[0].LocalPath,
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "0",
		filepath.Join(outputDir, "index.m3u8"),
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", hlsArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("FFmpeg HLS 錯誤: %v, output: %s", err, string(output))
	}

	masterPath := filepath.Join(outputDir, "master.m3u8")
	master := "#EXTM3U\n#EXT-X-VERSION:3\n"
	for _, v := range result.Variants {
		master += fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,NAME=\"%s\"\nindex.m3u8\n", v.Bitrate, v.Label)
	}
	if err := os.WriteFile(masterPath, []byte(master), 0644); err != nil {
		return nil, fmt.Errorf("寫入 master playlist 失敗: %w", err)
	}
	result.MasterPlaylist = masterPath
	return result, nil
}
