// 预置模型描述，用于注册表与协调器测试。
package fixtures

import "github.com/BaSui01/edgeflow/types"

const mib = int64(1 << 20)

// WhisperTiny returns a small speech-to-text model.
func WhisperTiny() *types.ModelDescriptor {
	return &types.ModelDescriptor{
		ID:                   "whisper-tiny.en",
		Name:                 "Whisper Tiny (English)",
		Capability:           types.CapabilitySTT,
		Framework:            types.FrameworkWhisperCpp,
		Format:               types.FormatBin,
		CompatibleFrameworks: []types.Framework{types.FrameworkWhisperCpp, types.FrameworkONNX},
		MemoryRequired:       75 * mib,
	}
}

// SherpaZipformer returns an ONNX streaming speech-to-text model.
func SherpaZipformer() *types.ModelDescriptor {
	return &types.ModelDescriptor{
		ID:                   "sherpa-zipformer-en-20m",
		Capability:           types.CapabilitySTT,
		Framework:            types.FrameworkSherpa,
		Format:               types.FormatONNX,
		CompatibleFrameworks: []types.Framework{types.FrameworkSherpa, types.FrameworkONNX},
		MemoryRequired:       40 * mib,
	}
}

// Qwen05B returns a small GGUF text-generation model.
func Qwen05B() *types.ModelDescriptor {
	return &types.ModelDescriptor{
		ID:                   "qwen2.5-0.5b-instruct-q4",
		Capability:           types.CapabilityTextGeneration,
		Framework:            types.FrameworkLlamaCpp,
		Format:               types.FormatGGUF,
		CompatibleFrameworks: []types.Framework{types.FrameworkLlamaCpp},
		PreferredFramework:   types.FrameworkLlamaCpp,
		MemoryRequired:       400 * mib,
	}
}

// SmolVLM returns a vision model.
func SmolVLM() *types.ModelDescriptor {
	return &types.ModelDescriptor{
		ID:                   "smolvlm-256m",
		Capability:           types.CapabilityVision,
		Framework:            types.FrameworkLlamaCpp,
		Format:               types.FormatGGUF,
		CompatibleFrameworks: []types.Framework{types.FrameworkLlamaCpp},
		MemoryRequired:       300 * mib,
	}
}

// PiperLessac returns a text-to-speech voice.
func PiperLessac() *types.ModelDescriptor {
	return &types.ModelDescriptor{
		ID:                   "piper-en_US-lessac-medium",
		Capability:           types.CapabilityTTS,
		Framework:            types.FrameworkPiper,
		Format:               types.FormatONNX,
		CompatibleFrameworks: []types.Framework{types.FrameworkPiper, types.FrameworkONNX},
		MemoryRequired:       60 * mib,
	}
}

// SileroVAD returns a neural VAD model.
func SileroVAD() *types.ModelDescriptor {
	return &types.ModelDescriptor{
		ID:                   "silero-vad-v5",
		Capability:           types.CapabilityVAD,
		Framework:            types.FrameworkONNX,
		Format:               types.FormatONNX,
		CompatibleFrameworks: []types.Framework{types.FrameworkONNX},
		MemoryRequired:       2 * mib,
	}
}

// Model returns a bare descriptor with the given id and memory.
func Model(id string, capability types.Capability, memory int64) *types.ModelDescriptor {
	return &types.ModelDescriptor{
		ID:             id,
		Capability:     capability,
		Framework:      types.FrameworkUnknown,
		MemoryRequired: memory,
	}
}
