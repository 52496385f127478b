package dto

// ── 阶段模块 DTO ──

// CreateStageRequest 创建阶段请求
// 日期接受 ISO-8601 字符串，仅日期部分参与比较；name/description 的长度在去除首尾空白后由 Service 校验
type CreateStageRequest struct {
	Name        string `json:"name"        binding:"required"`
	Description string `json:"description"`
	Percentage  string `json:"percentage"  binding:"required"`
	Order       int    `json:"order"       binding:"required,min=1"`
	StartDate   string `json:"startDate"   binding:"required"` // "2024-01-01"
	EndDate     string `json:"endDate"     binding:"required"` // "2024-03-31"
	IsActive    *bool  `json:"isActive"`                       // 缺省为 true
}

// UpdateStageRequest 更新阶段请求（部分更新：仅修改提供的字段）
type UpdateStageRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Percentage  *string `json:"percentage"`
	Order       *int    `json:"order"       binding:"omitempty,min=1"`
	StartDate   *string `json:"startDate"`
	EndDate     *string `json:"endDate"`
	IsActive    *bool   `json:"isActive"`
	Version     *int    `json:"version"     binding:"omitempty,min=1"` // 提供时做乐观锁校验
}

// StageResponse 阶段信息响应（含基于参考时刻的派生状态）
type StageResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Percentage     string `json:"percentage"`
	Order          int    `json:"order"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	IsActive       bool   `json:"isActive"`
	IsCurrentStage bool   `json:"isCurrentStage"`
	IsCompleted    bool   `json:"isCompleted"`
	IsUpcoming     bool   `json:"isUpcoming"`
	Version        int    `json:"version"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

// CurrentStageResponse 当前阶段查询结果
// currentStage 为 null 时，allCompleted 区分“全部结束”与“阶段间隙/尚未开始”
type CurrentStageResponse struct {
	CurrentStage *StageResponse `json:"currentStage"`
	AllCompleted bool           `json:"allCompleted"`
}

// HasChanges 是否提供了任何需要写入的字段（version 仅用于校验）
func (r *UpdateStageRequest) HasChanges() bool {
	return r.Name != nil || r.Description != nil || r.Percentage != nil || r.Order != nil ||
		r.StartDate != nil || r.EndDate != nil || r.IsActive != nil
}
