// Package types 定义 SceneFlow 的共享基础类型。
//
// 包含：
//   - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Backend 标记
//   - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
//
// 错误分类（§ 生成任务错误码）区分三类终端结果：
// 校验与 registry 不变量错误立即返回；瞬时网络错误由轮询执行器
// 在预算内静默重试；TASK_FAILED / TIMEOUT / CANCELLED 是唯一
// 会暴露给调用方的轮询终态。
package types
