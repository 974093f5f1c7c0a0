package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzap "github.com/hertz-contrib/logger/zap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"KinLink/config"
)

var (
	// Logger 在 Init 之前为 no-op，测试和库代码可以直接使用
	Logger   = zap.NewNop()
	logClose io.Closer
)

// Options 日志输出选项，Output 可以是 stdout、stderr 或文件路径
type Options struct {
	Level  string
	Format string // json, text
	Output string
}

// OptionsFromConfig 从全局配置读取日志选项，开发环境强制文本格式
func OptionsFromConfig() Options {
	opts := Options{
		Level:  config.Cfg.LoggerLevel,
		Format: config.Cfg.LoggerFormat,
		Output: config.Cfg.LoggerOutputPath,
	}
	if config.Cfg.IsDevelopment() {
		opts.Format = "text"
	}
	return opts
}

// Init 按全局配置初始化，server 和 worker 使用
func Init() {
	if err := Setup(OptionsFromConfig()); err != nil {
		panic(err)
	}
	Logger.Info("Logger initialized successfully",
		zap.String("level", strings.ToUpper(config.Cfg.LoggerLevel)),
		zap.String("format", config.Cfg.LoggerFormat),
		zap.String("environment", config.Cfg.Environment),
	)
}

// Setup 替换全局 Logger 并同步 hertz 的 hlog
func Setup(opts Options) error {
	level := parseLevel(opts.Level)

	ws, closer, err := openOutput(opts.Output)
	if err != nil {
		return err
	}

	hzLogger := hertzzap.NewLogger(
		hertzzap.WithCoreEnc(newEncoder(opts.Format)),
		hertzzap.WithCoreWs(ws),
		hertzzap.WithCoreLevel(zap.NewAtomicLevelAt(level)),
		hertzzap.WithZapOptions(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		),
	)
	hlog.SetLogger(hzLogger)
	hlog.SetLevel(hlogLevels[level])

	Logger = hzLogger.Logger()
	logClose = closer
	return nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}

	if logClose != nil {
		_ = logClose.Close()
		logClose = nil
	}
}

func newEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if strings.EqualFold(format, "json") {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func openOutput(path string) (zapcore.WriteSyncer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil, nil
	case "stderr":
		// onboardctl 的标准输出留给命令结果
		return zapcore.AddSync(os.Stderr), nil, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), file, nil
}

// parseLevel 无法识别的级别按 INFO 处理
func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	if _, ok := hlogLevels[l]; !ok {
		return zapcore.ErrorLevel
	}
	return l
}

var hlogLevels = map[zapcore.Level]hlog.Level{
	zapcore.DebugLevel: hlog.LevelDebug,
	zapcore.InfoLevel:  hlog.LevelInfo,
	zapcore.WarnLevel:  hlog.LevelWarn,
	zapcore.ErrorLevel: hlog.LevelError,
}
