// Package fingerprint 为生成请求计算内容指纹。
//
// 指纹是请求逻辑身份的确定性摘要：主文本 + 能力参数（voice、language、
// style 等）经规范化序列化后取 SHA-256。两个逻辑等价的请求永远得到
// 相同指纹；任何参数差异都会改变指纹。去重层以此判断"等价任务是否在跑"。
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/BaSui01/sceneflow/types"
)

// Digest 是固定长度的内容指纹（SHA-256 hex，64 字符）。
// 计算一次，不可变。
type Digest string

// String implements fmt.Stringer.
func (d Digest) String() string { return string(d) }

// Short 返回适合日志的指纹前缀。
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

// Param 是一个能力参数键值对。
type Param struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

// canonicalRequest 是参与哈希的规范化形态。
// 字段顺序固定，参数按键排序，插入顺序不影响结果。
type canonicalRequest struct {
	Text   string  `json:"text"`
	Params []Param `json:"params"`
}

// Compute 计算 (text, params) 的内容指纹。
// text 去除首尾空白后不得为空，否则返回 INVALID_ARGUMENT。
func Compute(text string, params []Param) (Digest, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", types.NewError(types.ErrInvalidArgument, "fingerprint: primary content is empty")
	}

	// 拷贝后排序，不修改调用方切片
	canonical := make([]Param, len(params))
	copy(canonical, params)
	sort.SliceStable(canonical, func(i, j int) bool {
		if canonical[i].Key != canonical[j].Key {
			return canonical[i].Key < canonical[j].Key
		}
		return canonical[i].Value < canonical[j].Value
	})

	data, err := json.Marshal(canonicalRequest{Text: trimmed, Params: canonical})
	if err != nil {
		return "", types.NewError(types.ErrInvalidArgument, "fingerprint: serialize request").WithCause(err)
	}

	sum := sha256.Sum256(data)
	return Digest(hex.EncodeToString(sum[:])), nil
}
