package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 url/digest/尝试次数字段，供单文件拉取日志复用。
func FetchFields(url, digest string, attempt int) logrus.Fields {
	fields := logrus.Fields{
		"action": "fetch",
		"url":    url,
		"digest": digest,
	}
	if attempt > 0 {
		fields["attempt"] = attempt
	}
	return fields
}

// ArchiveFields 描述一次解压的来源与目标目录。
func ArchiveFields(archive, dest string) logrus.Fields {
	return logrus.Fields{
		"action":  "extract",
		"archive": archive,
		"dest":    dest,
	}
}

// RunFields 标识一次完整运行，run_id 同时出现在诊断接口中。
func RunFields(runID, manifestPath string) logrus.Fields {
	return logrus.Fields{
		"action":   "run",
		"run_id":   runID,
		"manifest": manifestPath,
	}
}
