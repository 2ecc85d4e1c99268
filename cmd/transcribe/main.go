package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/internal/controller"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

var (
	inputFile   = flag.String("input", "", "处理单个音频或视频文件")
	mediaDir    = flag.String("media", "", "媒体目录，批量或监听模式使用")
	outputDir   = flag.String("output", "", "输出目录")
	configFile  = flag.String("config", "", "配置文件路径 (.json/.yaml)")
	logLevel    = flag.String("log-level", "", "日志级别 (VERBOSE, INFO, WARN, ERROR)")
	logFile     = flag.String("log-file", "", "日志文件路径")
	watchMode   = flag.Bool("watch", false, "监听媒体目录中的新文件")
	archiveDir  = flag.String("archive", "", "监听模式下处理成功的文件移入该目录")
	summarize   = flag.Bool("summary", false, "生成会议纪要")
	metricsAddr = flag.String("metrics-addr", "", "Prometheus 指标监听地址，如 :9090")
	noProgress  = flag.Bool("no-progress", false, "不显示进度条")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	printWelcome()

	if !utils.CheckFFmpeg() {
		color.Yellow("未检测到 FFmpeg，仅支持 MP3/WAV 输入")
	}

	pc, err := controller.NewProcessorController(controller.Options{
		ConfigFile:   *configFile,
		LogLevel:     *logLevel,
		LogFile:      *logFile,
		MediaFolder:  *mediaDir,
		OutputFolder: *outputDir,
		ArchiveDir:   *archiveDir,
		Summarize:    *summarize,
		MetricsAddr:  *metricsAddr,
		NoProgress:   *noProgress,
	})
	if err != nil {
		color.Red("初始化失败 [%s]: %v", utils.CodeOf(err), err)
		return 2
	}
	defer pc.Cleanup()

	switch {
	case *inputFile != "":
		if _, err := pc.ProcessFile(*inputFile); err != nil {
			return 1
		}
	case *watchMode:
		if err := pc.StartWatchMode(); err != nil {
			color.Red("监听模式启动失败: %v", err)
			return 1
		}
	default:
		results, err := pc.ProcessMedia()
		if err != nil {
			color.Red("批量处理失败 [%s]: %v", utils.CodeOf(err), err)
			return 1
		}
		for _, r := range results {
			if !r.Success {
				return 1
			}
		}
	}
	return 0
}

func printWelcome() {
	fmt.Println()
	color.Cyan("================================")
	color.Cyan("      会议录音转写工具          ")
	color.Cyan("================================")
	fmt.Println()
}
