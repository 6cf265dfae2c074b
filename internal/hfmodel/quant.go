// Package hfmodel implements the pure, no-network logic behind the model
// spec wire format and the quantization variant catalog: parsing
// "<author>/<repo>:<QUANT>" specs, recognizing a quantization tag from a
// GGUF filename, and recommending a variant given available memory. The
// remote Hugging Face hub lookups themselves are a collaborator,
// represented by registry.HubClient, not implemented here.
package hfmodel

import (
	"strconv"
	"strings"

	"github.com/shaneholloman/goose-local-inference/internal/apperr"
)

// ModelSpec is the parsed form of the wire model spec
// "<author>/<repo>:<QUANT>".
type ModelSpec struct {
	RepoID string
	Quant  string
}

// ParseModelSpec requires a ':' separating repo from quantization, and a
// '/' inside the repo portion.
func ParseModelSpec(s string) (ModelSpec, error) {
	repoID, quant, ok := strings.Cut(s, ":")
	if !ok {
		return ModelSpec{}, apperr.BadRequestf("invalid model spec %q: expected format 'user/repo:quantization'", s)
	}
	if !strings.Contains(repoID, "/") {
		return ModelSpec{}, apperr.BadRequestf("invalid repo id %q: expected format 'user/repo'", repoID)
	}
	return ModelSpec{RepoID: repoID, Quant: quant}, nil
}

// QuantVariant groups one quantization's single GGUF file (sharded files
// are excluded from variant grouping).
type QuantVariant struct {
	Quantization string
	SizeBytes    int64
	Filename     string
	DownloadURL  string
	Description  string
	QualityRank  int
}

type quantInfo struct {
	description string
	qualityRank int
}

var quantTable = []struct {
	name string
	info quantInfo
}{
	{"IQ1_S", quantInfo{"Extremely small, very low quality", 1}},
	{"IQ1_M", quantInfo{"Extremely small, very low quality", 2}},
	{"IQ2_XXS", quantInfo{"Very small, low quality", 3}},
	{"IQ2_XS", quantInfo{"Very small, low quality", 4}},
	{"IQ2_S", quantInfo{"Very small, low quality", 5}},
	{"IQ2_M", quantInfo{"Very small, low quality", 6}},
	{"Q2_K", quantInfo{"Small, low quality", 7}},
	{"Q2_K_S", quantInfo{"Small, low quality", 7}},
	{"IQ3_XXS", quantInfo{"Very small, moderate quality loss", 8}},
	{"IQ3_XS", quantInfo{"Small, moderate quality loss", 9}},
	{"IQ3_S", quantInfo{"Small, moderate quality loss", 9}},
	{"Q3_K_S", quantInfo{"Small, moderate quality loss", 10}},
	{"IQ3_M", quantInfo{"Small, moderate quality loss", 11}},
	{"Q3_K_M", quantInfo{"Small, balanced quality/size", 12}},
	{"Q3_K_L", quantInfo{"Medium-small, decent quality", 13}},
	{"IQ4_XS", quantInfo{"Medium, good quality", 14}},
	{"IQ4_NL", quantInfo{"Medium, good quality", 15}},
	{"Q4_0", quantInfo{"Medium, good quality", 16}},
	{"Q4_1", quantInfo{"Medium, good quality", 17}},
	{"Q4_K_S", quantInfo{"Medium, good quality/size balance", 18}},
	{"Q4_K_M", quantInfo{"Medium, recommended balance of quality and size", 19}},
	{"Q5_0", quantInfo{"Medium-large, high quality", 20}},
	{"Q5_1", quantInfo{"Medium-large, high quality", 21}},
	{"Q5_K_S", quantInfo{"Medium-large, high quality", 22}},
	{"Q5_K_M", quantInfo{"Medium-large, very high quality", 23}},
	{"Q6_K", quantInfo{"Large, near-lossless quality", 24}},
	{"Q8_0", quantInfo{"Large, near-lossless quality", 25}},
	{"F16", quantInfo{"Full size, original quality (16-bit)", 26}},
	{"BF16", quantInfo{"Full size, original quality (bfloat16)", 27}},
	{"F32", quantInfo{"Full size, original quality (32-bit)", 28}},
	{"MXFP4_MOE", quantInfo{"Medium, mixed-precision 4-bit for MoE models", 18}},
	{"TQ1_0", quantInfo{"Tiny, ternary quantization", 1}},
	{"Q2_K_XL", quantInfo{"Extended-layer variant", 15}},
	{"Q3_K_XL", quantInfo{"Extended-layer variant", 15}},
	{"Q4_K_XL", quantInfo{"Extended-layer variant", 15}},
	{"Q2_K_L", quantInfo{"Small, low quality (large variant)", 8}},
	{"Q4_K_L", quantInfo{"Medium, good quality (large variant)", 20}},
}

func lookupQuantInfo(quant string) quantInfo {
	for _, q := range quantTable {
		if q.name == quant {
			return q.info
		}
	}
	return quantInfo{description: "", qualityRank: 15}
}

// ParseQuantizationFromFilename recovers the quantization tag from a GGUF
// filename, e.g. "Qwen3-Coder-Next-Q4_K_M.gguf" -> "Q4_K_M", returning
// "unknown" if nothing recognizable is found.
func ParseQuantizationFromFilename(filename string) string {
	basename := filename
	if idx := strings.LastIndexByte(filename, '/'); idx >= 0 {
		basename = filename[idx+1:]
	}
	stem := strings.TrimSuffix(basename, ".gguf")

	if pos := strings.LastIndex(stem, "-of-"); pos >= 0 {
		before := stem[:pos]
		if i := strings.LastIndexByte(before, '-'); i >= 0 {
			stem = before[:i]
		}
	}

	if i := strings.LastIndexByte(stem, '-'); i >= 0 {
		if candidate := stem[i+1:]; looksLikeQuant(candidate) {
			return candidate
		}
	}
	if i := strings.LastIndexByte(stem, '.'); i >= 0 {
		if candidate := stem[i+1:]; looksLikeQuant(candidate) {
			return candidate
		}
	}
	return "unknown"
}

func looksLikeQuant(s string) bool {
	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, "Q"), strings.HasPrefix(upper, "IQ"),
		strings.HasPrefix(upper, "TQ"), strings.HasPrefix(upper, "MXFP"):
		return true
	case upper == "F16", upper == "F32", upper == "BF16":
		return true
	default:
		return false
	}
}

// IsShardFile reports whether filename matches a shard pattern like
// "-00001-of-00003.gguf".
func IsShardFile(filename string) bool {
	basename := filename
	if idx := strings.LastIndexByte(filename, '/'); idx >= 0 {
		basename = filename[idx+1:]
	}
	stem := strings.TrimSuffix(basename, ".gguf")
	pos := strings.LastIndex(stem, "-of-")
	if pos < 0 {
		return false
	}
	before := stem[:pos]
	i := strings.LastIndexByte(before, '-')
	if i < 0 {
		return false
	}
	digits := before[i+1:]
	if digits == "" {
		return false
	}
	_, err := strconv.Atoi(digits)
	return err == nil
}

// BuildDownloadURL is the resolve-main download URL for a repo file.
func BuildDownloadURL(repoID, filename string) string {
	return "https://huggingface.co/" + repoID + "/resolve/main/" + filename
}

// RepoFile is the minimal shape this package needs from a remote-hub file
// listing, matching registry.HubFile.
type RepoFile struct {
	Filename  string
	SizeBytes int64
}

// GroupIntoVariants collects single-file GGUFs (shards and non-GGUF files
// excluded) into quality-ranked quantization variants.
func GroupIntoVariants(repoID string, files []RepoFile) []QuantVariant {
	var variants []QuantVariant
	for _, f := range files {
		if !strings.HasSuffix(f.Filename, ".gguf") || IsShardFile(f.Filename) {
			continue
		}
		quant := ParseQuantizationFromFilename(f.Filename)
		if quant == "unknown" {
			continue
		}
		info := lookupQuantInfo(quant)
		variants = append(variants, QuantVariant{
			Quantization: quant,
			SizeBytes:    f.SizeBytes,
			Filename:     f.Filename,
			DownloadURL:  BuildDownloadURL(repoID, f.Filename),
			Description:  info.description,
			QualityRank:  info.qualityRank,
		})
	}
	sortByQualityRank(variants)
	return variants
}

func sortByQualityRank(variants []QuantVariant) {
	for i := 1; i < len(variants); i++ {
		for j := i; j > 0 && variants[j].QualityRank < variants[j-1].QualityRank; j-- {
			variants[j], variants[j-1] = variants[j-1], variants[j]
		}
	}
}

// RecommendVariant picks the highest-quality variant whose size fits
// within 85% of availableMemoryBytes (reserving headroom for inference
// context), returning -1 when nothing fits.
func RecommendVariant(variants []QuantVariant, availableMemoryBytes int64) int {
	usable := int64(float64(availableMemoryBytes) * 0.85)

	best := -1
	for i, v := range variants {
		if v.SizeBytes > usable {
			continue
		}
		if best < 0 || variants[best].QualityRank < v.QualityRank {
			best = i
		}
	}
	return best
}
