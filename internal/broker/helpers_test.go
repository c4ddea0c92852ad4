package broker

import "github.com/EikeiDev/apkupdateross/internal/progress"

type discardReporter struct{}

func (discardReporter) EmitProgress(progress.Progress) {}
